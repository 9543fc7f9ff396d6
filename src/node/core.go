package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	hg "github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/intake"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
	"github.com/sirupsen/logrus"
)

//Core creates the node's own events and records what consensus decided. The
//graph itself lives in the intake pipeline.
type Core struct {

	// validator is a wrapper around the private-key controlling this node.
	validator *Validator

	// pipeline is where self-events are submitted, like any other event.
	pipeline *intake.Pipeline

	// peers is the address book.
	peers *peers.PeerSet

	// peerSelector is the object that decides which peer to talk to next.
	peerSelector PeerSelector
	selectorLock sync.Mutex

	// head is the last self-event. It is the self-parent of the next one even
	// if it is still making its way through the pipeline.
	head     *hg.Event
	headLock sync.Mutex

	// The transaction pool contains transactions submitted through SubmitTx
	// that still haven't made it into a self-event.
	transactionPool [][]byte
	poolLock        sync.Mutex

	version version.SoftwareVersion

	// written by the round handler on the intake worker
	lastRound             int64
	consensusEvents       int64
	consensusTransactions int64
	lastRoundEvents       int64

	logger *logrus.Entry
}

//NewCore is a factory method that returns a new Core object
func NewCore(
	validator *Validator,
	peers *peers.PeerSet,
	pipeline *intake.Pipeline,
	version version.SoftwareVersion,
	logger *logrus.Entry,
) *Core {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Core{
		validator:    validator,
		pipeline:     pipeline,
		peers:        peers,
		peerSelector: NewRandomPeerSelector(peers, validator.ID()),
		version:      version,
		lastRound:    -1,
		logger:       logger,
	}
}

// Busy is true when there are transactions waiting for a self-event.
func (c *Core) Busy() bool {
	c.poolLock.Lock()
	defer c.poolLock.Unlock()
	return len(c.transactionPool) > 0
}

//AddTransactions appends transactions to the transaction pool
func (c *Core) AddTransactions(txs [][]byte) {
	c.poolLock.Lock()
	defer c.poolLock.Unlock()
	c.transactionPool = append(c.transactionPool, txs...)
}

// TransactionPoolSize ...
func (c *Core) TransactionPoolSize() int {
	c.poolLock.Lock()
	defer c.poolLock.Unlock()
	return len(c.transactionPool)
}

// SetHead makes e the self-parent of the next self-event, if it is newer than
// the current head. It is used when replaying the event log.
func (c *Core) SetHead(e *hg.Event) {
	c.headLock.Lock()
	defer c.headLock.Unlock()
	if c.head == nil || e.Generation() > c.head.Generation() {
		c.head = e
	}
}

// Head returns the last self-event, or nil.
func (c *Core) Head() *hg.Event {
	c.headLock.Lock()
	defer c.headLock.Unlock()
	return c.head
}

// AddSelfEvent creates, signs and submits a self-event carrying the whole
// transaction pool. otherParent may be nil when there is no other node to
// reference. The birth round is the round after the latest consensus round.
func (c *Core) AddSelfEvent(ctx context.Context, otherParent *hg.EventDescriptor) error {
	c.headLock.Lock()
	defer c.headLock.Unlock()

	c.poolLock.Lock()
	txs := c.transactionPool
	c.poolLock.Unlock()

	var selfParent *hg.EventDescriptor
	timeCreated := time.Now()
	if c.head != nil {
		d := c.head.Descriptor()
		selfParent = &d
		// time-created must be strictly increasing along the self-chain
		if !timeCreated.After(c.head.TimeCreated()) {
			timeCreated = c.head.TimeCreated().Add(time.Nanosecond)
		}
	}

	var otherParents []hg.EventDescriptor
	if otherParent != nil && otherParent.Creator != c.validator.ID() {
		otherParents = []hg.EventDescriptor{*otherParent}
	}

	// never below a parent, whose creator may be ahead of us
	birthRound := c.pipeline.EventWindow().LatestConsensusRound + 1
	if selfParent != nil && selfParent.BirthRound > birthRound {
		birthRound = selfParent.BirthRound
	}
	for _, op := range otherParents {
		if op.BirthRound > birthRound {
			birthRound = op.BirthRound
		}
	}

	event, err := hg.NewEvent(
		c.validator.ID(),
		selfParent,
		otherParents,
		birthRound,
		timeCreated,
		txs,
		c.version,
	)
	if err != nil {
		return err
	}

	if err := event.Sign(c.validator.Key); err != nil {
		return err
	}
	event.SetSenderID(c.validator.ID())

	if err := c.pipeline.Submit(ctx, event); err != nil {
		c.logger.WithError(err).Error("Error submitting self-event")
		return err
	}

	c.head = event

	//do not remove transactions that were added while creating the event
	c.poolLock.Lock()
	c.transactionPool = c.transactionPool[len(txs):]
	c.poolLock.Unlock()

	c.logger.WithFields(logrus.Fields{
		"event":        event.String(),
		"other_parent": len(otherParents) > 0,
		"birth_round":  birthRound,
		"transactions": len(txs),
	}).Debug("Created Self-Event")

	return nil
}

// RecordRound updates the consensus counters. It runs on the intake worker.
func (c *Core) RecordRound(round *hg.ConsensusRound) {
	txs := 0
	for _, e := range round.Events {
		txs += len(e.Transactions())
	}

	atomic.StoreInt64(&c.lastRound, round.RoundNum)
	atomic.AddInt64(&c.consensusEvents, int64(len(round.Events)))
	atomic.AddInt64(&c.consensusTransactions, int64(txs))
	atomic.StoreInt64(&c.lastRoundEvents, int64(len(round.Events)))
}

// GetLastConsensusRoundIndex returns -1 before the first round.
func (c *Core) GetLastConsensusRoundIndex() int64 {
	return atomic.LoadInt64(&c.lastRound)
}

// GetConsensusEventsCount ...
func (c *Core) GetConsensusEventsCount() int64 {
	return atomic.LoadInt64(&c.consensusEvents)
}

// GetConsensusTransactionsCount ...
func (c *Core) GetConsensusTransactionsCount() int64 {
	return atomic.LoadInt64(&c.consensusTransactions)
}

// GetLastCommitedRoundEventsCount ...
func (c *Core) GetLastCommitedRoundEventsCount() int64 {
	return atomic.LoadInt64(&c.lastRoundEvents)
}
