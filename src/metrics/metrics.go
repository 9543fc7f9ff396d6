package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hashgossip"

// Metrics holds the counters and gauges reported by the intake pipeline and
// the gossip layer. Each node owns its own registry so that several nodes can
// run in one process, as they do in tests.
type Metrics struct {
	registry *prometheus.Registry

	InvalidEvents       *prometheus.CounterVec
	DuplicateEvents     prometheus.Counter
	DisparateSignatures prometheus.Counter
	OrphanCount         prometheus.Gauge
	OrphansDiscarded    prometheus.Counter
	LinkRejected        *prometheus.CounterVec
	IntakeDiscarded     *prometheus.CounterVec
	EventsAdded         prometheus.Counter
	StaleEvents         prometheus.Counter
	ConsensusRounds     prometheus.Counter
	ShadowgraphSize     prometheus.Gauge
	IntakeInflight      prometheus.Gauge
	Syncs               *prometheus.CounterVec
	SyncEventsSent      prometheus.Counter
	SyncEventsReceived  prometheus.Counter
	FlushedSequence     prometheus.Gauge
	PrunedEvents        prometheus.Counter
}

// NewMetrics registers all collectors with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InvalidEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_events_total",
				Help:      "Events dropped by the validator, by reason",
			},
			[]string{"reason"},
		),
		DuplicateEvents: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_events_total",
				Help:      "Events dropped because the same descriptor and signature were already seen",
			},
		),
		DisparateSignatures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disparate_signature_events_total",
				Help:      "Events matching a known descriptor with a different signature",
			},
		),
		OrphanCount: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orphan_count",
				Help:      "Events waiting in the orphan buffer for missing parents",
			},
		),
		OrphansDiscarded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_discarded_total",
				Help:      "Events discarded by the orphan buffer because they became ancient",
			},
		),
		LinkRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_rejected_total",
				Help:      "Unorphaned events that could not be linked into the shadowgraph, by reason",
			},
			[]string{"reason"},
		),
		IntakeDiscarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intake_discarded_total",
				Help:      "Events discarded by the linked event intake, by reason",
			},
			[]string{"reason"},
		),
		EventsAdded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_added_total",
				Help:      "Events handed to consensus",
			},
		),
		StaleEvents: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_events_total",
				Help:      "Events that became ancient without reaching consensus",
			},
		),
		ConsensusRounds: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consensus_rounds_total",
				Help:      "Rounds returned by consensus",
			},
		),
		ShadowgraphSize: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shadowgraph_events",
				Help:      "Events held in the shadowgraph",
			},
		),
		IntakeInflight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "intake_inflight",
				Help:      "Events inside the intake pipeline",
			},
		),
		Syncs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_total",
				Help:      "Gossip sessions, by result",
			},
			[]string{"result"},
		),
		SyncEventsSent: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_events_sent_total",
				Help:      "Events streamed to peers",
			},
		),
		SyncEventsReceived: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_events_received_total",
				Help:      "Events received from peers",
			},
		),
		FlushedSequence: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flushed_sequence_number",
				Help:      "Highest stream sequence number known to be durable",
			},
		),
		PrunedEvents: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_log_pruned_total",
				Help:      "Events deleted from the event log once expired",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
