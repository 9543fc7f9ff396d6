package engine

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/mosaicnetworks/hashgossip/src/config"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	hg "github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/net"
	"github.com/mosaicnetworks/hashgossip/src/node"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/service"
	"github.com/mosaicnetworks/hashgossip/src/store"
	"github.com/mosaicnetworks/hashgossip/src/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Engine builds a node and its dependencies from a Config.
type Engine struct {
	Config        *config.Config
	Node          *node.Node
	Transport     *net.Transport
	EventLog      *store.EventLog
	Peers         *peers.PeerSet
	PreviousPeers *peers.PeerSet
	Service       *service.Service
	Metrics       *metrics.Metrics
	logger        *logrus.Entry
}

// NewEngine returns an Engine that still needs Init.
func NewEngine(conf *config.Config) *Engine {
	engine := &Engine{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

// Init builds every component. The order matters: the key comes before the
// transport, which needs the identity for its handshake.
func (e *Engine) Init() error {
	if err := e.initPeers(); err != nil {
		return err
	}

	if err := e.initKey(); err != nil {
		return err
	}

	e.Metrics = metrics.NewMetrics()

	if err := e.initStore(); err != nil {
		return err
	}

	if err := e.initTransport(); err != nil {
		return err
	}

	if err := e.initNode(); err != nil {
		return err
	}

	if err := e.initService(); err != nil {
		return err
	}

	return nil
}

// Run serves the HTTP API, if any, and runs the node until it shuts down.
func (e *Engine) Run() {
	if e.Service != nil {
		go e.Service.Serve()
	}

	e.Node.Run(true)
}

// Shutdown stops the node and the service.
func (e *Engine) Shutdown() {
	if e.Service != nil {
		if err := e.Service.Close(); err != nil {
			e.logger.WithError(err).Error("Closing service")
		}
	}
	if e.Node != nil {
		e.Node.Shutdown()
	}
}

func (e *Engine) initPeers() error {
	current := peers.NewJSONPeerSet(e.Config.DataDir, false)
	if !current.Exists() {
		return fmt.Errorf("no peers.json in %s", e.Config.DataDir)
	}

	peerSet, err := current.PeerSet()
	if err != nil {
		return errors.Wrap(err, "reading peers.json")
	}
	if peerSet == nil || peerSet.Len() == 0 {
		return fmt.Errorf("peers.json is empty")
	}
	e.Peers = peerSet

	// the address book of the previous software version, for events
	// created before an upgrade
	previous := peers.NewJSONPeerSet(e.Config.DataDir, true)
	if previous.Exists() {
		prev, err := previous.PeerSet()
		if err != nil {
			return errors.Wrap(err, "reading peers.previous.json")
		}
		e.PreviousPeers = prev
	}

	e.logger.WithFields(logrus.Fields{
		"peers":    e.Peers.Len(),
		"previous": e.PreviousPeers != nil,
	}).Debug("Loaded peers")

	return nil
}

func (e *Engine) initKey() error {
	if e.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(e.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()
		if err != nil {
			e.logger.Errorf("Error reading private key from file: %v", err)
			return err
		}

		e.Config.Key = privKey
	}
	return nil
}

func (e *Engine) initStore() error {
	if !e.Config.Store {
		e.logger.Debug("No event log")
		return nil
	}

	dbPath := e.Config.DatabaseDir
	e.logger.WithField("path", dbPath).Debug("Opening event log")

	eventLog, err := store.NewEventLog(dbPath, e.Metrics, e.logger.WithField("component", "store"))
	if err != nil {
		return err
	}
	e.EventLog = eventLog

	return nil
}

func (e *Engine) initTransport() error {
	transport, err := net.NewTCPTransport(
		e.Config.BindAddr,
		e.Config.AdvertiseAddr,
		net.HandshakeConfig{
			Version:      version.Current(),
			CheckVersion: e.Config.VersionCheck,
			Identity:     keys.PublicKeyHex(&e.Config.Key.PublicKey),
			Peers:        e.Peers,
			Timeout:      e.Config.HandshakeTimeout,
		},
		e.Config.MaxPool,
		e.Config.TCPTimeout,
		e.logger.WithField("component", "transport"),
	)
	if err != nil {
		return err
	}

	e.Transport = transport

	return nil
}

func (e *Engine) initNode() error {
	validator := node.NewValidator(e.Config.Key, e.Config.Moniker)

	if !e.Peers.Contains(validator.ID()) {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	consensus := e.Config.Consensus
	if consensus == nil {
		mode, err := e.Config.Mode()
		if err != nil {
			return err
		}
		consensus = hg.NewRelayConsensus(
			mode,
			e.Config.GenerationsPerRound,
			e.Config.RoundsNonAncient,
			e.Config.RoundsExpired,
		)
	}

	e.logger.WithFields(logrus.Fields{
		"peers": e.Peers.Len(),
		"id":    validator.ID(),
	}).Debug("PARTICIPANTS")

	e.Node = node.NewNode(
		e.Config,
		validator,
		e.Peers,
		e.PreviousPeers,
		consensus,
		e.EventLog,
		e.Transport,
		e.Metrics,
	)

	if err := e.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (e *Engine) initService() error {
	if !e.Config.NoService {
		e.Service = service.NewService(e.Config.ServiceAddr, e.Node, e.logger.WithField("component", "service"))
	}
	return nil
}

// Keygen writes a new key to datadir, unless one is already there.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	conf := config.NewDefaultConfig()
	conf.DataDir = datadir
	keyfile := conf.Keyfile()

	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keys.NewSimpleKeyfile(keyfile).WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
