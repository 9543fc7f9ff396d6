package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for hashgossip
var RootCmd = &cobra.Command{
	Use:              "hashgossip",
	Short:            "hashgraph event gossip node",
	TraverseChildren: true,
}
