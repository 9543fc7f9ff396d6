package intake

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/shadowgraph"
)

// KeystoneFunc receives the stream sequence number of every keystone event,
// before the round it belongs to is handed on.
type KeystoneFunc func(sequenceNumber int64)

// LinkedEventIntake feeds linked events to consensus and marks the events that
// became ancient without reaching consensus as stale.
type LinkedEventIntake struct {
	consensus hashgraph.Consensus
	graph     *shadowgraph.Shadowgraph
	keystone  KeystoneFunc
	counter   hashgraph.IntakeEventCounter
	metrics   *metrics.Metrics
	logger    *logrus.Entry

	paused int32
}

// NewLinkedEventIntake ...
func NewLinkedEventIntake(
	consensus hashgraph.Consensus,
	graph *shadowgraph.Shadowgraph,
	keystone KeystoneFunc,
	counter hashgraph.IntakeEventCounter,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *LinkedEventIntake {
	if counter == nil {
		counter = hashgraph.NoOpIntakeEventCounter{}
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &LinkedEventIntake{
		consensus: consensus,
		graph:     graph,
		keystone:  keystone,
		counter:   counter,
		metrics:   m,
		logger:    logger,
	}
}

// AddEvent adds the event to consensus and returns the rounds it completed.
// The event has left the pipeline when AddEvent returns, whatever happened to
// it.
func (i *LinkedEventIntake) AddEvent(event *hashgraph.Event) []*hashgraph.ConsensusRound {
	defer i.counter.EventExitedIntakePipeline(event.SenderID())

	if i.Paused() {
		i.metrics.IntakeDiscarded.WithLabelValues("paused").Inc()
		return nil
	}

	before := i.consensus.EventWindow()
	if before.IsAncientEvent(event) {
		i.metrics.IntakeDiscarded.WithLabelValues("ancient").Inc()
		return nil
	}

	rounds := i.consensus.AddEvent(event)
	i.metrics.EventsAdded.Inc()

	for _, r := range rounds {
		if i.keystone != nil {
			i.keystone(r.KeystoneSequenceNumber())
		}
		i.metrics.ConsensusRounds.Inc()
	}

	after := i.consensus.EventWindow()
	if after.AncientThreshold > before.AncientThreshold {
		i.markStale(before.AncientThreshold, after.AncientThreshold)
	}

	return rounds
}

func (i *LinkedEventIntake) markStale(low, high int64) {
	stale := i.graph.FindByAncientIndicator(low, high, func(e *hashgraph.Event) bool {
		return !e.ReachedConsensus() && !e.IsStale()
	})

	for _, e := range stale {
		e.MarkStale()
	}

	if len(stale) > 0 {
		i.metrics.StaleEvents.Add(float64(len(stale)))
		i.logger.WithFields(logrus.Fields{
			"count": len(stale),
			"from":  low,
			"to":    high,
		}).Debug("Stale events")
	}
}

// SetPaused makes AddEvent discard everything while paused is true.
func (i *LinkedEventIntake) SetPaused(paused bool) {
	var v int32
	if paused {
		v = 1
	}
	atomic.StoreInt32(&i.paused, v)
}

// Paused ...
func (i *LinkedEventIntake) Paused() bool {
	return atomic.LoadInt32(&i.paused) == 1
}
