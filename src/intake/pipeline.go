package intake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/orphan"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/shadowgraph"
	"github.com/mosaicnetworks/hashgossip/src/validation"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

// ErrShutdown is returned by Submit once the pipeline has stopped.
var ErrShutdown = errors.New("intake pipeline is shut down")

// RoundHandler receives the rounds that reached consensus, in order, on the
// intake worker.
type RoundHandler func(round *hashgraph.ConsensusRound)

// EventLog persists linked events and assigns their stream sequence numbers.
// It is told about every window so that it can drop expired events.
type EventLog interface {
	Append(event *hashgraph.Event) error
	SetEventWindow(w hashgraph.EventWindow) error
}

// Config gathers what a Pipeline is built from. EventLog, Keystone and
// RoundHandler are optional.
type Config struct {
	Consensus           hashgraph.Consensus
	CurrentVersion      version.SoftwareVersion
	PreviousBook        *peers.PeerSet
	CurrentBook         *peers.PeerSet
	MaxTransactionBytes int
	Dedup               bool
	Capacity            int
	EventLog            EventLog
	Keystone            KeystoneFunc
	RoundHandler        RoundHandler
	Metrics             *metrics.Metrics
	Logger              *logrus.Entry
}

// Stats are cumulative counters of the pipeline stages.
type Stats struct {
	Submitted uint64
	Validated uint64
	Linked    uint64
	Rounds    uint64
	Orphans   orphan.Stats
}

// Pipeline moves events from Submit through validation, the orphan buffer,
// linking, the event log and consensus. All stages run on a single worker
// goroutine, so they need no locking between them.
type Pipeline struct {
	consensus hashgraph.Consensus
	validator *validation.EventValidator
	orphans   *orphan.OrphanBuffer
	graph     *shadowgraph.Shadowgraph
	linker    *Linker
	intake    *LinkedEventIntake
	eventLog  EventLog
	counter   *EventCounter

	roundHandler RoundHandler

	queue  chan *hashgraph.Event
	window atomic.Value

	submitted uint64
	validated uint64
	linked    uint64
	rounds    uint64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	doneCh       chan struct{}

	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewPipeline builds all the stages. Run must be called to start the worker.
func NewPipeline(conf Config) *Pipeline {
	logger := conf.Logger
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	m := conf.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	window := conf.Consensus.EventWindow()
	counter := NewEventCounter(conf.Capacity)
	graph := shadowgraph.NewShadowgraph(window, logger.WithField("component", "shadowgraph"))

	p := &Pipeline{
		consensus: conf.Consensus,
		validator: validation.NewEventValidator(
			conf.CurrentVersion,
			conf.PreviousBook,
			conf.CurrentBook,
			conf.MaxTransactionBytes,
			window,
			conf.Dedup,
			counter,
			m,
			logger.WithField("component", "validator"),
		),
		orphans:      orphan.NewOrphanBuffer(window, counter, m, logger.WithField("component", "orphans")),
		graph:        graph,
		linker:       NewLinker(graph, counter, m, logger.WithField("component", "linker")),
		intake:       NewLinkedEventIntake(conf.Consensus, graph, conf.Keystone, counter, m, logger.WithField("component", "intake")),
		eventLog:     conf.EventLog,
		counter:      counter,
		roundHandler: conf.RoundHandler,
		queue:        make(chan *hashgraph.Event, cap(counter.slots)),
		shutdownCh:   make(chan struct{}),
		doneCh:       make(chan struct{}),
		metrics:      m,
		logger:       logger,
	}

	p.window.Store(window)
	p.setLogWindow(window)

	return p
}

// Submit hands an event to the worker. It blocks while the pipeline is full
// and returns ctx.Err() if the context ends first.
func (p *Pipeline) Submit(ctx context.Context, event *hashgraph.Event) error {
	select {
	case <-p.shutdownCh:
		return ErrShutdown
	default:
	}

	if err := p.counter.EventEnteredIntakePipeline(ctx, event.SenderID()); err != nil {
		return err
	}

	// the queue holds as many events as the counter admits, so this only
	// waits for shutdown in practice
	select {
	case p.queue <- event:
		atomic.AddUint64(&p.submitted, 1)
		p.metrics.IntakeInflight.Set(float64(p.counter.Inflight()))
		return nil
	case <-ctx.Done():
		p.counter.abandon(event.SenderID())
		return ctx.Err()
	case <-p.shutdownCh:
		p.counter.abandon(event.SenderID())
		return ErrShutdown
	}
}

// Run processes events until Shutdown is called or ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.doneCh)

	for {
		select {
		case event := <-p.queue:
			p.handle(event)
		case <-ctx.Done():
			return
		case <-p.shutdownCh:
			return
		}
	}
}

// Shutdown stops the worker. Done is closed once Run has returned.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdownCh)
	})
}

// Done is closed when Run returns.
func (p *Pipeline) Done() <-chan struct{} {
	return p.doneCh
}

// handle frees the queue slot of event and processes it.
func (p *Pipeline) handle(event *hashgraph.Event) {
	p.counter.EventDequeued()
	p.process(event)
}

// process runs one submitted event through every stage.
func (p *Pipeline) process(event *hashgraph.Event) {
	defer p.updateGauges()

	if p.validator.Validate(event) != validation.Valid {
		return
	}
	atomic.AddUint64(&p.validated, 1)

	p.drain(p.orphans.HandleEvent(event))
}

// drain links and adds events released by the orphan buffer. Every event may
// move the window, which can release more events.
func (p *Pipeline) drain(events []*hashgraph.Event) {
	queue := events
	for len(queue) > 0 {
		event := queue[0]
		queue = queue[1:]

		p.addLinked(event)
		queue = append(queue, p.updateWindow()...)
	}
}

func (p *Pipeline) addLinked(event *hashgraph.Event) {
	if !p.linker.Link(event) {
		return
	}
	atomic.AddUint64(&p.linked, 1)

	if p.eventLog != nil {
		if err := p.eventLog.Append(event); err != nil {
			p.logger.WithFields(logrus.Fields{
				"event": event.String(),
				"error": err,
			}).Error("Appending event to log")
		}
	}

	for _, r := range p.intake.AddEvent(event) {
		atomic.AddUint64(&p.rounds, 1)
		if p.roundHandler != nil {
			p.roundHandler(r)
		}
	}
}

// updateWindow pushes a new consensus window to every stage and returns the
// orphans it released.
func (p *Pipeline) updateWindow() []*hashgraph.Event {
	w := p.consensus.EventWindow()
	if w == p.EventWindow() {
		return nil
	}
	p.window.Store(w)

	p.validator.SetEventWindow(w)
	released := p.orphans.SetEventWindow(w)
	p.graph.UpdateEventWindow(w)
	p.setLogWindow(w)

	p.logger.WithField("window", w.String()).Debug("Event window updated")

	return released
}

func (p *Pipeline) setLogWindow(w hashgraph.EventWindow) {
	if p.eventLog == nil {
		return
	}
	if err := p.eventLog.SetEventWindow(w); err != nil {
		p.logger.WithFields(logrus.Fields{
			"window": w.String(),
			"error":  err,
		}).Error("Pruning event log")
	}
}

func (p *Pipeline) updateGauges() {
	p.metrics.ShadowgraphSize.Set(float64(p.graph.Len()))
	p.metrics.IntakeInflight.Set(float64(p.counter.Inflight()))
}

// EventWindow returns the window last applied by the worker. It is safe to
// call from any goroutine.
func (p *Pipeline) EventWindow() hashgraph.EventWindow {
	return p.window.Load().(hashgraph.EventWindow)
}

// Shadowgraph gives read access to the linked events.
func (p *Pipeline) Shadowgraph() *shadowgraph.Shadowgraph {
	return p.graph
}

// Counter ...
func (p *Pipeline) Counter() *EventCounter {
	return p.counter
}

// SetPaused pauses or resumes the consensus intake. Events keep being
// validated and linked while paused.
func (p *Pipeline) SetPaused(paused bool) {
	p.intake.SetPaused(paused)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadUint64(&p.submitted),
		Validated: atomic.LoadUint64(&p.validated),
		Linked:    atomic.LoadUint64(&p.linked),
		Rounds:    atomic.LoadUint64(&p.rounds),
		Orphans:   p.orphans.Stats(),
	}
}
