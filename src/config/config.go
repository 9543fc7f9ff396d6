package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// event log
	DefaultBadgerFile = "badger_db"

	// DefaultInfoLogFile and DefaultDebugLogFile receive the info and debug
	// levels when LogFile is set.
	DefaultInfoLogFile  = "hashgossip_info.log"
	DefaultDebugLogFile = "hashgossip_debug.log"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultHeartbeatTimeout     = 10 * time.Millisecond
	DefaultSlowHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultHandshakeTimeout     = 5000 * time.Millisecond
	DefaultMaxPool              = 2
	DefaultStore                = false
	DefaultAncientMode          = "generation"
	DefaultDedup                = true
	DefaultVersionCheck         = true
	DefaultMaxTransactionBytes  = 1 << 20
	DefaultIntakeCapacity       = 1024
	DefaultGenerationsPerRound  = 4
	DefaultRoundsNonAncient     = 26
	DefaultRoundsExpired        = 500
)

// Config contains all the configuration properties of a hashgossip node.
type Config struct {
	// DataDir is the top-level directory containing the key, the peers files
	// and, by default, the event log.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile additionally writes info and debug logs to files in DataDir.
	LogFile bool `mapstructure:"log-file"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the local address:port where this node gossips with other
	// nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// TCPTimeout bounds every read and write on a gossip connection.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// HandshakeTimeout bounds the connection handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`

	// MaxPool controls how many connections are pooled per target in the gossip
	// routines.
	MaxPool int `mapstructure:"max-pool"`

	// HeartbeatTimeout is the frequency of the gossip timer when the node has
	// something to gossip about.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the gossip timer when the node
	// has nothing to gossip about.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// AncientMode selects the indicator used by the event window, generation
	// or birth-round.
	AncientMode string `mapstructure:"ancient-mode"`

	// Dedup enables the duplicate-event filter of the validator.
	Dedup bool `mapstructure:"dedup"`

	// VersionCheck makes the handshake exchange and compare software versions.
	VersionCheck bool `mapstructure:"version-check"`

	// MaxTransactionBytes is the payload limit of a single event. Zero
	// disables the check.
	MaxTransactionBytes int `mapstructure:"max-transaction-bytes"`

	// IntakeCapacity is the number of events allowed inside the intake
	// pipeline at once. Submitters block beyond it.
	IntakeCapacity int `mapstructure:"intake-capacity"`

	// GenerationsPerRound, RoundsNonAncient and RoundsExpired parametrize the
	// relay consensus used when no voting engine is plugged in.
	GenerationsPerRound int64 `mapstructure:"generations-per-round"`
	RoundsNonAncient    int64 `mapstructure:"rounds-non-ancient"`
	RoundsExpired       int64 `mapstructure:"rounds-expired"`

	// Store activates the durable event log.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Consensus is the voting engine. When nil, a RelayConsensus is built from
	// the rounds settings.
	Consensus hashgraph.Consensus

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		ServiceAddr:          DefaultServiceAddr,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SlowHeartbeatTimeout: DefaultSlowHeartbeatTimeout,
		TCPTimeout:           DefaultTCPTimeout,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		MaxPool:              DefaultMaxPool,
		AncientMode:          DefaultAncientMode,
		Dedup:                DefaultDedup,
		VersionCheck:         DefaultVersionCheck,
		MaxTransactionBytes:  DefaultMaxTransactionBytes,
		IntakeCapacity:       DefaultIntakeCapacity,
		GenerationsPerRound:  DefaultGenerationsPerRound,
		RoundsNonAncient:     DefaultRoundsNonAncient,
		RoundsExpired:        DefaultRoundsExpired,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not the default, the user has explicitely set it, so leave it alone.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Mode parses AncientMode.
func (c *Config) Mode() (hashgraph.AncientMode, error) {
	return hashgraph.ParseAncientMode(c.AncientMode)
}

// Logger returns a formatted logrus Entry, with prefix set to "hashgossip".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile {
			c.addFileHook()
		}
	}
	return c.logger.WithField("prefix", "hashgossip")
}

func (c *Config) addFileHook() {
	pathMap := lfshook.PathMap{}

	for level, name := range map[logrus.Level]string{
		logrus.InfoLevel:  DefaultInfoLogFile,
		logrus.DebugLevel: DefaultDebugLogFile,
	} {
		path := filepath.Join(c.DataDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			c.logger.Infof("Failed to open %s, using default stderr", path)
			continue
		}
		f.Close()
		pathMap[level] = path
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config based
// on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hashgossip")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hashgossip")
		} else {
			return filepath.Join(home, ".hashgossip")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
