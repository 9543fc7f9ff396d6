package commands

import (
	"github.com/mosaicnetworks/hashgossip/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Node config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Node: *config.NewDefaultConfig(),
	}
}
