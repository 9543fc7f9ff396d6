package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/hashgossip/src/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	e := engine.NewEngine(&_config.Node)

	if err := e.Init(); err != nil {
		_config.Node.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	done := make(chan struct{})
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(done)
		<-sigintCh
		_config.Node.Logger().Debug("Reacting to SIGINT - shutting down")
		e.Shutdown()
	}()

	e.Run()

	// Run returns as soon as the node state is Shutdown, which happens before
	// the event log is closed
	<-done

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Node.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Node.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.Node.LogFile, "Also write info and debug logs to files in datadir")
	cmd.Flags().String("moniker", _config.Node.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Node.BindAddr, "Listen IP:Port for the node")
	cmd.Flags().StringP("advertise", "a", _config.Node.AdvertiseAddr, "Advertise IP:Port for the node")
	cmd.Flags().DurationP("timeout", "t", _config.Node.TCPTimeout, "TCP Timeout")
	cmd.Flags().Duration("handshake-timeout", _config.Node.HandshakeTimeout, "Connection handshake timeout")
	cmd.Flags().Int("max-pool", _config.Node.MaxPool, "Connection pool size max")
	cmd.Flags().Bool("version-check", _config.Node.VersionCheck, "Exchange and compare software versions in the handshake")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.Node.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.Node.NoService, "Disable HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Node.Store, "Persist linked events in badgerDB")
	cmd.Flags().String("db", _config.Node.DatabaseDir, "Dabatabase directory")

	// Gossip
	cmd.Flags().Duration("heartbeat", _config.Node.HeartbeatTimeout, "Time between gossips")
	cmd.Flags().Duration("slow-heartbeat", _config.Node.SlowHeartbeatTimeout, "Time between gossips when there is nothing to say")

	// Intake
	cmd.Flags().String("ancient-mode", _config.Node.AncientMode, "generation or birth-round")
	cmd.Flags().Bool("dedup", _config.Node.Dedup, "Drop duplicate events")
	cmd.Flags().Int("max-transaction-bytes", _config.Node.MaxTransactionBytes, "Max payload per event, 0 for no limit")
	cmd.Flags().Int("intake-capacity", _config.Node.IntakeCapacity, "Max events inside the intake pipeline")
	cmd.Flags().Int64("generations-per-round", _config.Node.GenerationsPerRound, "Generations per round of the relay consensus")
	cmd.Flags().Int64("rounds-non-ancient", _config.Node.RoundsNonAncient, "Rounds before an event becomes ancient")
	cmd.Flags().Int64("rounds-expired", _config.Node.RoundsExpired, "Rounds before an event is dropped from memory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Node.SetDataDir(_config.Node.DataDir)

	logFields := logrus.Fields{
		"node.DataDir":             _config.Node.DataDir,
		"node.BindAddr":            _config.Node.BindAddr,
		"node.AdvertiseAddr":       _config.Node.AdvertiseAddr,
		"node.ServiceAddr":         _config.Node.ServiceAddr,
		"node.NoService":           _config.Node.NoService,
		"node.MaxPool":             _config.Node.MaxPool,
		"node.Store":               _config.Node.Store,
		"node.LogLevel":            _config.Node.LogLevel,
		"node.Moniker":             _config.Node.Moniker,
		"node.HeartbeatTimeout":    _config.Node.HeartbeatTimeout,
		"node.TCPTimeout":          _config.Node.TCPTimeout,
		"node.HandshakeTimeout":    _config.Node.HandshakeTimeout,
		"node.AncientMode":         _config.Node.AncientMode,
		"node.Dedup":               _config.Node.Dedup,
		"node.VersionCheck":        _config.Node.VersionCheck,
		"node.MaxTransactionBytes": _config.Node.MaxTransactionBytes,
		"node.IntakeCapacity":      _config.Node.IntakeCapacity,
		"node.RoundsNonAncient":    _config.Node.RoundsNonAncient,
		"node.RoundsExpired":       _config.Node.RoundsExpired,
	}

	if _config.Node.Store {
		logFields["node.DatabaseDir"] = _config.Node.DatabaseDir
	}

	if used := viper.ConfigFileUsed(); used != "" {
		logFields["config"] = used
	}

	// The logger is built only once the log level is known
	_config.Node.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/hashgossip.toml (.json, .yaml also work)
	viper.SetConfigName("hashgossip")         // name of config file (without extension)
	viper.AddConfigPath(_config.Node.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
