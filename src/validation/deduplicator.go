package validation

import (
	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
)

// Deduplicator remembers the signatures seen for every non-ancient descriptor.
// An event repeating a known (descriptor, signature) pair is a duplicate. An
// event with a known descriptor but a new signature is let through and counted,
// since only the signature check can tell which of the two is genuine.
type Deduplicator struct {
	mode     hashgraph.AncientMode
	observed map[hashgraph.EventDescriptor]map[string]struct{}
	index    *common.SequenceIndex[hashgraph.EventDescriptor]
	metrics  *metrics.Metrics
}

// NewDeduplicator ...
func NewDeduplicator(window hashgraph.EventWindow, m *metrics.Metrics) *Deduplicator {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Deduplicator{
		mode:     window.Mode,
		observed: make(map[hashgraph.EventDescriptor]map[string]struct{}),
		index:    common.NewSequenceIndex[hashgraph.EventDescriptor](window.AncientThreshold),
		metrics:  m,
	}
}

// Handle records the event and returns false if it is a duplicate.
func (d *Deduplicator) Handle(e *hashgraph.Event) bool {
	desc := e.Descriptor()

	sigs, ok := d.observed[desc]
	if !ok {
		if d.index.Add(e.AncientIndicator(d.mode), desc) {
			d.observed[desc] = map[string]struct{}{e.Signature: {}}
		}
		return true
	}

	if _, dup := sigs[e.Signature]; dup {
		d.metrics.DuplicateEvents.Inc()
		return false
	}

	sigs[e.Signature] = struct{}{}
	d.metrics.DisparateSignatures.Inc()
	return true
}

// SetEventWindow forgets every descriptor that became ancient.
func (d *Deduplicator) SetEventWindow(w hashgraph.EventWindow) {
	d.index.ShiftWindow(w.AncientThreshold, func(_ int64, desc hashgraph.EventDescriptor) {
		delete(d.observed, desc)
	})
}

// Len is the number of descriptors remembered.
func (d *Deduplicator) Len() int {
	return len(d.observed)
}
