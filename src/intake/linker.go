package intake

import (
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/shadowgraph"
	"github.com/mosaicnetworks/hashgossip/src/validation"
)

// Linker inserts the events released by the orphan buffer into the
// shadowgraph. It is the first stage where the self-parent body is available,
// so it also checks creation times.
type Linker struct {
	graph   *shadowgraph.Shadowgraph
	counter hashgraph.IntakeEventCounter
	metrics *metrics.Metrics
	logger  *common.RateLimitedLogger
}

// NewLinker ...
func NewLinker(
	graph *shadowgraph.Shadowgraph,
	counter hashgraph.IntakeEventCounter,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *Linker {
	if counter == nil {
		counter = hashgraph.NoOpIntakeEventCounter{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Linker{
		graph:   graph,
		counter: counter,
		metrics: m,
		logger:  common.NewRateLimitedLogger(logger, validation.LogPeriod),
	}
}

// Link returns true if the event was inserted. Rejected events have exited the
// pipeline.
func (l *Linker) Link(event *hashgraph.Event) bool {
	window := l.graph.EventWindow()

	if sp := event.SelfParent(); sp != nil {
		parent := l.graph.Event(sp.Hash)
		switch {
		case parent != nil:
			if !validation.IsValidTimeCreated(event, parent) {
				return l.reject(event, validation.InvalidTimeCreated.String(), logrus.Fields{
					"time_created":        event.TimeCreated(),
					"parent_time_created": parent.TimeCreated(),
				})
			}
		case !window.IsAncientDescriptor(*sp):
			return l.reject(event, "missing_parent", logrus.Fields{"parent": sp.String()})
		}
	}

	for _, op := range event.OtherParents() {
		if !window.IsAncientDescriptor(op) && !l.graph.Contains(op.Hash) {
			return l.reject(event, "missing_parent", logrus.Fields{"parent": op.String()})
		}
	}

	if err := l.graph.Insert(event); err != nil {
		return l.reject(event, "insert", logrus.Fields{"error": err})
	}

	return true
}

func (l *Linker) reject(event *hashgraph.Event, reason string, fields logrus.Fields) bool {
	fields["event"] = event.String()
	fields["sender"] = event.SenderID()
	fields["reason"] = reason
	l.logger.Warn(fields, "Event not linked")

	l.metrics.LinkRejected.WithLabelValues(reason).Inc()
	l.counter.EventExitedIntakePipeline(event.SenderID())
	return false
}
