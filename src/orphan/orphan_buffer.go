// Package orphan holds events back until all of their parents have been
// emitted or have become ancient.
package orphan

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
)

// pendingOrphan is an event waiting for missingParents more parents.
type pendingOrphan struct {
	event          *hashgraph.Event
	missingParents int
	discarded      bool
}

// Stats are cumulative counters. Every event handed to the buffer ends up
// exactly once in Emitted or Discarded, or is still Pending.
type Stats struct {
	Received  uint64
	Emitted   uint64
	Discarded uint64
	Pending   int
}

// OrphanBuffer releases events in topological order. A parent is satisfied
// once it has been emitted by the buffer or once it is ancient.
type OrphanBuffer struct {
	sync.Mutex

	window hashgraph.EventWindow

	// hashes of non-ancient emitted events
	emitted      map[string]struct{}
	emittedIndex *common.SequenceIndex[string]

	// missing parent hash -> orphans waiting for it
	missingParents map[string][]*pendingOrphan
	missingIndex   *common.SequenceIndex[string]

	orphanIndex *common.SequenceIndex[*pendingOrphan]

	stats Stats

	counter hashgraph.IntakeEventCounter
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewOrphanBuffer ...
func NewOrphanBuffer(
	window hashgraph.EventWindow,
	counter hashgraph.IntakeEventCounter,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *OrphanBuffer {
	if counter == nil {
		counter = hashgraph.NoOpIntakeEventCounter{}
	}

	if m == nil {
		m = metrics.NewMetrics()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &OrphanBuffer{
		window:         window,
		emitted:        make(map[string]struct{}),
		emittedIndex:   common.NewSequenceIndex[string](window.AncientThreshold),
		missingParents: make(map[string][]*pendingOrphan),
		missingIndex:   common.NewSequenceIndex[string](window.AncientThreshold),
		orphanIndex:    common.NewSequenceIndex[*pendingOrphan](window.AncientThreshold),
		counter:        counter,
		metrics:        m,
		logger:         logger,
	}
}

// HandleEvent takes a validated event and returns the events that can now be
// linked, in topological order. The result is empty if the event is missing a
// parent, or if it was discarded for being ancient.
func (b *OrphanBuffer) HandleEvent(event *hashgraph.Event) []*hashgraph.Event {
	b.Lock()
	defer b.Unlock()

	b.stats.Received++

	if b.window.IsAncientEvent(event) {
		b.discard(event, "ancient on arrival")
		return nil
	}

	orphan := &pendingOrphan{event: event}

	for _, p := range event.Parents() {
		if b.isSatisfied(p) {
			continue
		}

		if _, ok := b.missingParents[p.Hash]; !ok {
			b.missingIndex.Add(p.AncientIndicator(b.window.Mode), p.Hash)
		}
		b.missingParents[p.Hash] = append(b.missingParents[p.Hash], orphan)
		orphan.missingParents++
	}

	if orphan.missingParents > 0 {
		b.orphanIndex.Add(event.AncientIndicator(b.window.Mode), orphan)
		b.stats.Pending++
		b.updateGauge()
		return nil
	}

	res := b.emit([]*hashgraph.Event{event})
	b.updateGauge()
	return res
}

// SetEventWindow moves the ancient threshold. Pending events that became
// ancient are discarded. Pending events whose last missing parents became
// ancient are released and returned in topological order.
func (b *OrphanBuffer) SetEventWindow(w hashgraph.EventWindow) []*hashgraph.Event {
	b.Lock()
	defer b.Unlock()

	if !w.Covers(b.window) {
		b.logger.WithFields(logrus.Fields{
			"current": b.window.String(),
			"refused": w.String(),
		}).Error("Event window would move backwards")
		return nil
	}
	b.window = w

	b.emittedIndex.ShiftWindow(w.AncientThreshold, func(_ int64, hash string) {
		delete(b.emitted, hash)
	})

	b.orphanIndex.ShiftWindow(w.AncientThreshold, func(_ int64, o *pendingOrphan) {
		o.discarded = true
		b.stats.Pending--
		b.discard(o.event, "became ancient while pending")
	})

	ready := []*hashgraph.Event{}
	b.missingIndex.ShiftWindow(w.AncientThreshold, func(_ int64, hash string) {
		for _, o := range b.missingParents[hash] {
			if o.discarded {
				continue
			}
			o.missingParents--
			if o.missingParents == 0 {
				b.release(o)
				ready = append(ready, o.event)
			}
		}
		delete(b.missingParents, hash)
	})

	sort.Sort(hashgraph.ByTopologicalOrder(ready))

	res := b.emit(ready)
	b.updateGauge()
	return res
}

// CurrentOrphanCount returns the number of events waiting for parents.
func (b *OrphanBuffer) CurrentOrphanCount() int {
	b.Lock()
	defer b.Unlock()
	return b.stats.Pending
}

// Stats returns a copy of the counters.
func (b *OrphanBuffer) Stats() Stats {
	b.Lock()
	defer b.Unlock()
	return b.stats
}

func (b *OrphanBuffer) isSatisfied(parent hashgraph.EventDescriptor) bool {
	if b.window.IsAncientDescriptor(parent) {
		return true
	}
	_, ok := b.emitted[parent.Hash]
	return ok
}

// emit outputs the given events and every orphan they unblock, parents always
// before children.
func (b *OrphanBuffer) emit(events []*hashgraph.Event) []*hashgraph.Event {
	res := []*hashgraph.Event{}
	queue := events

	for len(queue) > 0 {
		event := queue[0]
		queue = queue[1:]

		res = append(res, event)
		b.stats.Emitted++

		hash := event.Hex()
		if b.emittedIndex.Add(event.AncientIndicator(b.window.Mode), hash) {
			b.emitted[hash] = struct{}{}
		}

		waiters, ok := b.missingParents[hash]
		if !ok {
			continue
		}
		delete(b.missingParents, hash)
		b.missingIndex.Remove(event.AncientIndicator(b.window.Mode), hash)

		for _, o := range waiters {
			if o.discarded {
				continue
			}
			o.missingParents--
			if o.missingParents == 0 {
				b.release(o)
				queue = append(queue, o.event)
			}
		}
	}

	return res
}

// release takes a ready orphan out of the pending set.
func (b *OrphanBuffer) release(o *pendingOrphan) {
	b.orphanIndex.Remove(o.event.AncientIndicator(b.window.Mode), o)
	b.stats.Pending--
}

func (b *OrphanBuffer) discard(event *hashgraph.Event, reason string) {
	b.stats.Discarded++
	b.metrics.OrphansDiscarded.Inc()
	b.counter.EventExitedIntakePipeline(event.SenderID())

	b.logger.WithFields(logrus.Fields{
		"event":  event.String(),
		"reason": reason,
	}).Debug("Discarded event")
}

func (b *OrphanBuffer) updateGauge() {
	b.metrics.OrphanCount.Set(float64(b.stats.Pending))
}
