// Package gossip reconciles the shadowgraphs of two nodes over one connection.
//
// A session has two phases. Both sides first send their tip summaries, then
// both send the events the other side is missing according to those tips.
// Within each phase sending and receiving run concurrently, so neither side
// waits on the other to drain its socket.
package gossip

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/shadowgraph"
)

// Connection is a handshaked, buffered link to a peer.
type Connection interface {
	io.Reader
	io.Writer
	Flush() error
	Close() error
	OtherID() uint32
}

// Intake receives the events read from peers.
type Intake interface {
	Submit(ctx context.Context, event *hashgraph.Event) error
	EventWindow() hashgraph.EventWindow
}

// Result summarises a completed session.
type Result struct {
	SessionID string
	PeerID    uint32
	Sent      int
	Received  int
	PeerTips  []hashgraph.EventDescriptor
}

// Synchronizer runs gossip sessions. It only reads the shadowgraph; received
// events go through the intake like any other.
type Synchronizer struct {
	graph   *shadowgraph.Shadowgraph
	intake  Intake
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewSynchronizer ...
func NewSynchronizer(
	graph *shadowgraph.Shadowgraph,
	intake Intake,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *Synchronizer {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Synchronizer{
		graph:   graph,
		intake:  intake,
		metrics: m,
		logger:  logger,
	}
}

// Synchronize runs one session. Any error aborts it and closes conn. A nil
// error means both sides sent everything and all received events were handed
// to the intake.
func (s *Synchronizer) Synchronize(ctx context.Context, conn Connection) (Result, error) {
	res := Result{
		SessionID: uuid.New().String(),
		PeerID:    conn.OtherID(),
	}

	logger := s.logger.WithFields(logrus.Fields{
		"session": res.SessionID,
		"peer":    res.PeerID,
	})

	// cancellation from the outside unblocks socket I/O by closing it
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err := s.synchronize(ctx, conn, &res)

	switch {
	case err == nil:
		s.metrics.Syncs.WithLabelValues("ok").Inc()
		logger.WithFields(logrus.Fields{
			"sent":     res.Sent,
			"received": res.Received,
		}).Debug("Sync done")
	case ctx.Err() != nil:
		conn.Close()
		s.metrics.Syncs.WithLabelValues("canceled").Inc()
		logger.Debug("Sync canceled")
		err = ctx.Err()
	default:
		conn.Close()
		s.metrics.Syncs.WithLabelValues("error").Inc()
		logger.WithField("error", err).Warn("Sync failed")
	}

	return res, err
}

func (s *Synchronizer) synchronize(ctx context.Context, conn Connection, res *Result) error {
	myWindow := s.intake.EventWindow()
	mine := TipSummary{
		AncientThreshold: myWindow.AncientThreshold,
		ExpiredThreshold: myWindow.ExpiredThreshold,
		Tips:             s.graph.TipSummary(myWindow),
	}

	var theirs TipSummary

	err := duplex(ctx, conn,
		func(context.Context) error {
			if err := WriteTips(conn, mine); err != nil {
				return err
			}
			return errors.Wrap(conn.Flush(), "flushing tips")
		},
		func(context.Context) error {
			var err error
			theirs, err = ReadTips(conn)
			return err
		},
	)
	if err != nil {
		return errors.Wrap(err, "tip exchange")
	}
	res.PeerTips = theirs.Tips

	peerWindow := hashgraph.NewEventWindow(
		0,
		theirs.AncientThreshold,
		theirs.ExpiredThreshold,
		myWindow.Mode,
	)

	toSend := s.graph.Diff(theirs.Tips, myWindow, peerWindow)

	err = duplex(ctx, conn,
		func(context.Context) error {
			for _, e := range toSend {
				if err := WriteEvent(conn, e); err != nil {
					return err
				}
				res.Sent++
			}
			if err := WriteDone(conn); err != nil {
				return err
			}
			return errors.Wrap(conn.Flush(), "flushing events")
		},
		func(gctx context.Context) error {
			n, err := ReadEvents(conn, func(e *hashgraph.Event) error {
				e.SetSenderID(conn.OtherID())
				return s.intake.Submit(gctx, e)
			})
			res.Received = n
			return err
		},
	)

	s.metrics.SyncEventsSent.Add(float64(res.Sent))
	s.metrics.SyncEventsReceived.Add(float64(res.Received))

	return errors.Wrap(err, "event exchange")
}

// duplex runs send and receive concurrently. The first failure closes the
// connection so that the other side returns too.
func duplex(ctx context.Context, conn Connection, send, receive func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := send(gctx)
		if err != nil {
			conn.Close()
		}
		return err
	})

	g.Go(func() error {
		err := receive(gctx)
		if err != nil {
			conn.Close()
		}
		return err
	})

	return g.Wait()
}
