package node

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/hashgossip/src/config"
	"github.com/mosaicnetworks/hashgossip/src/gossip"
	hg "github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/intake"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/net"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/store"
	"github.com/mosaicnetworks/hashgossip/src/version"
	"github.com/sirupsen/logrus"
)

//Node defines a hashgossip node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	validator *Validator

	core     *Core
	pipeline *intake.Pipeline
	sync     *gossip.Synchronizer
	trans    *net.Transport
	eventLog *store.EventLog
	metrics  *metrics.Metrics

	// outbound sessions in progress, by peer id
	activePeers     map[uint32]struct{}
	activePeersLock sync.Mutex

	submitCh chan []byte

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}
	running    int32

	controlTimer *ControlTimer

	start        time.Time
	syncRequests int64
	syncErrors   int64
}

//NewNode is a factory method that returns a Node instance. previousPeers may
//be nil. eventLog may be nil, in which case nothing is persisted.
func NewNode(conf *config.Config,
	validator *Validator,
	currentPeers *peers.PeerSet,
	previousPeers *peers.PeerSet,
	consensus hg.Consensus,
	eventLog *store.EventLog,
	trans *net.Transport,
	m *metrics.Metrics,
) *Node {
	if m == nil {
		m = metrics.NewMetrics()
	}

	logger := conf.Logger().WithField("this_id", validator.ID())
	ctx, cancel := context.WithCancel(context.Background())

	node := &Node{
		conf:         conf,
		logger:       logger,
		validator:    validator,
		trans:        trans,
		eventLog:     eventLog,
		metrics:      m,
		activePeers:  make(map[uint32]struct{}),
		submitCh:     make(chan []byte, 64),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	if eventLog != nil {
		node.restoreEventWindow(consensus)
	}

	pipelineConf := intake.Config{
		Consensus:           consensus,
		CurrentVersion:      version.Current(),
		PreviousBook:        previousPeers,
		CurrentBook:         currentPeers,
		MaxTransactionBytes: conf.MaxTransactionBytes,
		Dedup:               conf.Dedup,
		Capacity:            conf.IntakeCapacity,
		RoundHandler:        node.handleRound,
		Metrics:             m,
		Logger:              logger,
	}
	if eventLog != nil {
		pipelineConf.EventLog = eventLog
		pipelineConf.Keystone = eventLog.RequestFlush
	}

	node.pipeline = intake.NewPipeline(pipelineConf)
	node.core = NewCore(validator, currentPeers, node.pipeline, version.Current(), logger)
	node.sync = gossip.NewSynchronizer(
		node.pipeline.Shadowgraph(),
		node.pipeline,
		m,
		logger.WithField("component", "gossip"),
	)

	return node
}

//Init checks that the node belongs to the address book
func (n *Node) Init() error {
	if !n.core.peers.Contains(n.validator.ID()) {
		return fmt.Errorf("node %d does not belong to the PeerSet", n.validator.ID())
	}
	n.logger.Debug("Node belongs to PeerSet")
	n.setState(Gossiping)
	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

//Run starts the intake worker and the listener, replays the event log, and
//then runs the gossip loop until Shutdown.
func (n *Node) Run(gossip bool) {
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return
	}
	n.start = time.Now()

	go n.pipeline.Run(n.ctx)
	go n.trans.Listen(n.serveSession)

	if err := n.replay(); err != nil {
		n.logger.WithError(err).Error("Replaying event log")
	}

	//The ControlTimer allows the background routines to control the
	//heartbeat timer.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Gossiping, Paused:
			n.babble(gossip)
		case Shutdown:
			return
		}
	}
}

// restoreEventWindow resumes consensus from the window the event log was
// following, so that replayed events whose parents were pruned find them
// ancient rather than missing.
func (n *Node) restoreEventWindow(consensus hg.Consensus) {
	w, ok := n.eventLog.RestoredEventWindow()
	if !ok {
		return
	}

	restorer, ok := consensus.(hg.WindowRestorer)
	if !ok || !restorer.RestoreEventWindow(w) {
		n.logger.WithField("window", w.String()).Warn("Cannot resume from the event log window")
		return
	}

	n.logger.WithField("window", w.String()).Debug("Resumed event window")
}

// replay feeds the event log back through the pipeline. The log skips events
// it already holds, and the latest self-event becomes the head again.
func (n *Node) replay() error {
	if n.eventLog == nil {
		return nil
	}

	count := 0
	err := n.eventLog.Replay(func(e *hg.Event) error {
		e.SetSenderID(e.Creator())
		if e.Creator() == n.validator.ID() {
			n.core.SetHead(e)
		}
		count++
		return n.pipeline.Submit(n.ctx, e)
	})

	n.logger.WithField("events", count).Debug("Replayed event log")

	return err
}

//resetTimer schedules the next gossip tick, fast when there is something to
//say
func (n *Node) resetTimer() {
	if !n.controlTimer.IsSet() {
		ts := n.conf.HeartbeatTimeout

		//Slow gossip if nothing interesting to say
		if !n.core.Busy() {
			ts = n.conf.SlowHeartbeatTimeout
		}

		n.controlTimer.Reset(ts)
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case t := <-n.submitCh:
			n.logger.Debug("Adding Transaction")
			n.core.AddTransactions([][]byte{t})
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

// babble periodically initiates gossip while the node is not paused.
func (n *Node) babble(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if gossip && n.getState() == Gossiping {
				n.core.selectorLock.Lock()
				peer := n.core.peerSelector.Next(n.skipPeer)
				n.core.selectorLock.Unlock()

				if peer != nil {
					p := peer
					n.goFunc(func() { n.gossip(p) })
				} else if n.core.peers.Len() == 1 {
					n.monologue()
				}
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

// skipPeer is true for peers we are already syncing with, and for peers whose
// events from a previous session are still in the intake pipeline.
func (n *Node) skipPeer(id uint32) bool {
	n.activePeersLock.Lock()
	_, active := n.activePeers[id]
	n.activePeersLock.Unlock()

	return active || n.pipeline.Counter().HasUnprocessedEvents(id)
}

func (n *Node) acquirePeer(id uint32) bool {
	n.activePeersLock.Lock()
	defer n.activePeersLock.Unlock()
	if _, ok := n.activePeers[id]; ok {
		return false
	}
	n.activePeers[id] = struct{}{}
	return true
}

func (n *Node) releasePeer(id uint32) {
	n.activePeersLock.Lock()
	defer n.activePeersLock.Unlock()
	delete(n.activePeers, id)
}

//gossip runs one session with the selected peer and then records a
//self-event referencing the peer's tip if there is something to record.
func (n *Node) gossip(peer *peers.Peer) error {
	if !n.acquirePeer(peer.ID()) {
		return nil
	}
	defer n.releasePeer(peer.ID())

	atomic.AddInt64(&n.syncRequests, 1)

	start := time.Now()
	res, err := n.syncWith(peer)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("syncWith()")

	if err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
		n.logger.WithField("error", err).Error("gossip")
		return err
	}

	//update peer selector
	n.core.selectorLock.Lock()
	n.core.peerSelector.UpdateLast(peer.ID())
	n.core.selectorLock.Unlock()

	if n.core.Busy() {
		if err := n.core.AddSelfEvent(n.ctx, peerTip(res.PeerTips, peer.ID())); err != nil {
			return err
		}
	}

	n.logStats()

	return nil
}

func (n *Node) syncWith(peer *peers.Peer) (gossip.Result, error) {
	conn, err := n.trans.Connect(peer.NetAddr, peer.ID())
	if err != nil {
		return gossip.Result{}, err
	}

	res, err := n.sync.Synchronize(n.ctx, conn)
	n.trans.Release(conn, err == nil)

	return res, err
}

// peerTip picks the peer's own tip among the tips it sent.
func peerTip(tips []hg.EventDescriptor, id uint32) *hg.EventDescriptor {
	for i := range tips {
		if tips[i].Creator == id {
			return &tips[i]
		}
	}
	return nil
}

//monologue records a self-event when the node is alone in the address book.
func (n *Node) monologue() error {
	if n.core.Busy() {
		if err := n.core.AddSelfEvent(n.ctx, nil); err != nil {
			n.logger.WithError(err).Error("monologue, AddSelfEvent()")
			return err
		}
	}
	return nil
}

// serveSession is the transport handler for inbound sessions.
func (n *Node) serveSession(conn *net.Conn) error {
	if n.getState() == Shutdown {
		return net.ErrTransportShutdown
	}
	_, err := n.sync.Synchronize(n.ctx, conn)
	if err == nil {
		n.resetTimer()
	}
	return err
}

// handleRound runs on the intake worker. The keystone flush was requested
// before the round arrives here, so it only waits for it.
func (n *Node) handleRound(round *hg.ConsensusRound) {
	if n.eventLog != nil {
		if seq := round.KeystoneSequenceNumber(); seq >= 0 {
			if err := n.eventLog.WaitUntilDurable(n.ctx, seq); err != nil {
				n.logger.WithFields(logrus.Fields{
					"round": round.RoundNum,
					"error": err,
				}).Warn("Keystone not durable")
				return
			}
		}
	}

	n.core.RecordRound(round)

	n.logger.WithFields(logrus.Fields{
		"round":  round.RoundNum,
		"events": len(round.Events),
	}).Debug("Round handled")
}

//SubmitTx adds a transaction to the pool of the next self-event
func (n *Node) SubmitTx(tx []byte) error {
	select {
	case n.submitCh <- tx:
		return nil
	case <-n.shutdownCh:
		return intake.ErrShutdown
	}
}

//Pause stops initiating gossip and stops feeding consensus. Inbound sessions
//are still served.
func (n *Node) Pause() {
	if n.getState() == Gossiping {
		n.setState(Paused)
		n.pipeline.SetPaused(true)
		n.logger.Debug("Paused")
	}
}

//Resume undoes Pause
func (n *Node) Resume() {
	if n.getState() == Paused {
		n.pipeline.SetPaused(false)
		n.setState(Gossiping)
		n.logger.Debug("Resumed")
	}
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		n.cancel()
		close(n.shutdownCh)

		//closing the transport unblocks inbound sessions
		n.trans.Close()

		n.waitRoutines()

		n.controlTimer.Shutdown()

		n.pipeline.Shutdown()
		if atomic.LoadInt32(&n.running) == 1 {
			<-n.pipeline.Done()
		}

		//the log is closed last because the pipeline appends to it
		if n.eventLog != nil {
			if err := n.eventLog.Close(); err != nil {
				n.logger.WithError(err).Error("Closing event log")
			}
		}
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	consensusEvents := n.core.GetConsensusEventsCount()

	consensusEventsPerSecond := float64(consensusEvents) / timeElapsed.Seconds()

	lastConsensusRound := n.core.GetLastConsensusRoundIndex()

	var consensusRoundsPerSecond float64

	if lastConsensusRound > 0 {
		consensusRoundsPerSecond = float64(lastConsensusRound) / timeElapsed.Seconds()
	}

	pstats := n.pipeline.Stats()
	window := n.pipeline.EventWindow()

	s := map[string]string{
		"last_consensus_round":   strconv.FormatInt(lastConsensusRound, 10),
		"consensus_events":       strconv.FormatInt(consensusEvents, 10),
		"consensus_transactions": strconv.FormatInt(n.core.GetConsensusTransactionsCount(), 10),
		"round_events":           strconv.FormatInt(n.core.GetLastCommitedRoundEventsCount(), 10),
		"transaction_pool":       strconv.Itoa(n.core.TransactionPoolSize()),
		"num_peers":              strconv.Itoa(n.core.peers.Len()),
		"sync_rate":              strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"events_per_second":      strconv.FormatFloat(consensusEventsPerSecond, 'f', 2, 64),
		"rounds_per_second":      strconv.FormatFloat(consensusRoundsPerSecond, 'f', 2, 64),
		"submitted_events":       strconv.FormatUint(pstats.Submitted, 10),
		"validated_events":       strconv.FormatUint(pstats.Validated, 10),
		"linked_events":          strconv.FormatUint(pstats.Linked, 10),
		"orphans":                strconv.Itoa(pstats.Orphans.Pending),
		"shadowgraph_events":     strconv.Itoa(n.pipeline.Shadowgraph().Len()),
		"intake_inflight":        strconv.Itoa(n.pipeline.Counter().Inflight()),
		"intake_queued":          strconv.Itoa(n.pipeline.Counter().Queued()),
		"ancient_threshold":      strconv.FormatInt(window.AncientThreshold, 10),
		"expired_threshold":      strconv.FormatInt(window.ExpiredThreshold, 10),
		"id":                     fmt.Sprint(n.validator.ID()),
		"state":                  n.getState().String(),
		"moniker":                n.validator.Moniker,
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}

	n.logger.WithFields(fields).Debug("Stats")
}

//SyncRate returns the share of outbound sessions that succeeded
func (n *Node) SyncRate() float64 {
	var syncErrorRate float64

	requests := atomic.LoadInt64(&n.syncRequests)
	if requests != 0 {
		syncErrorRate = float64(atomic.LoadInt64(&n.syncErrors)) / float64(requests)
	}

	return 1 - syncErrorRate
}

//GetTips returns the non-ancient tip of every creator
func (n *Node) GetTips() []hg.EventDescriptor {
	return n.pipeline.Shadowgraph().TipSummary(n.pipeline.EventWindow())
}

//GetEventWindow ...
func (n *Node) GetEventWindow() hg.EventWindow {
	return n.pipeline.EventWindow()
}

//Metrics ...
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

//ID returns the validator ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

//GetState ...
func (n *Node) GetState() State {
	return n.getState()
}

//GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.core.peers.Peers
}
