package store

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	eventPrefix      = "evt_"
	generationPrefix = "gen_"
	birthRoundPrefix = "brd_"
	windowKey        = "meta_window"
	nextSeqKey       = "meta_next_seq"

	// index entries deleted per transaction when pruning
	pruneBatch = 1000
)

// ErrClosed is returned by operations on a closed EventLog.
var ErrClosed = errors.New("event log closed")

// EventLog is the durable, append-only log of linked events. Every appended
// event receives the next stream sequence number. Writes are not synced one
// by one; a background flusher syncs the database when a keystone asks for it
// and then advances the durable sequence number.
//
// Events are also indexed by generation and by birth round. The log follows
// the event window: it refuses ancient events and deletes expired ones, and it
// keeps the last window so that a restarted node can resume from it.
type EventLog struct {
	db   *badger.DB
	path string

	mu        sync.Mutex
	nextSeq   int64
	requested int64
	flushed   int64
	durableCh chan struct{} // closed and replaced each time flushed advances
	closed    bool
	window    hashgraph.EventWindow
	hasWindow bool

	flushCh chan struct{}
	closeCh chan struct{}
	doneCh  chan struct{}

	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewEventLog opens, or creates, the log under path. The next sequence number
// follows the last event already in the database.
func NewEventLog(path string, m *metrics.Metrics, logger *logrus.Entry) (*EventLog, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithField("component", "badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening event log at %s", path)
	}

	l := &EventLog{
		db:        db,
		path:      path,
		requested: -1,
		flushed:   -1,
		durableCh: make(chan struct{}),
		flushCh:   make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
		metrics:   m,
		logger:    logger,
	}

	last, err := l.lastSequence()
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := l.loadWindow(); err != nil {
		db.Close()
		return nil, err
	}
	l.nextSeq = last + 1

	// Whatever survived a restart is on disk already.
	l.flushed = last
	l.requested = last
	if m != nil {
		m.FlushedSequence.Set(float64(last))
	}

	go l.flushLoop()

	logger.WithFields(logrus.Fields{
		"path":     path,
		"next_seq": l.nextSeq,
		"window":   l.window.String(),
	}).Debug("Event log opened")

	return l, nil
}

// Append writes the event and stamps it with its stream sequence number.
// Events that already carry a sequence number came from Replay and are left
// where they are. Events that are ancient under the current window are not
// written and keep a sequence number of -1.
func (l *EventLog) Append(e *hashgraph.Event) error {
	if e.StreamSequenceNumber() >= 0 {
		return nil
	}

	val, err := e.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if l.hasWindow && l.window.IsAncientEvent(e) {
		return nil
	}

	seq := l.nextSeq
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(seq), val); err != nil {
			return err
		}
		if err := txn.Set(indexKey(generationPrefix, e.Generation(), seq), int64Bytes(e.BirthRound())); err != nil {
			return err
		}
		if err := txn.Set(indexKey(birthRoundPrefix, e.BirthRound(), seq), int64Bytes(e.Generation())); err != nil {
			return err
		}
		return txn.Set([]byte(nextSeqKey), int64Bytes(seq+1))
	})
	if err != nil {
		return errors.Wrapf(err, "appending event %s", e.Hex())
	}

	e.SetStreamSequenceNumber(seq)
	l.nextSeq++

	return nil
}

// SetEventWindow records the window and deletes every event below its expired
// threshold. A window lower than the current one in the same mode is ignored.
func (l *EventLog) SetEventWindow(w hashgraph.EventWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	prev, had := l.window, l.hasWindow
	if had && w == prev {
		return nil
	}
	if had && w.Mode == prev.Mode && !w.Covers(prev) {
		l.logger.WithFields(logrus.Fields{
			"current": prev.String(),
			"new":     w.String(),
		}).Warn("Ignoring event window below the current one")
		return nil
	}

	l.window, l.hasWindow = w, true

	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(windowKey), encodeWindow(w))
	})
	if err != nil {
		return errors.Wrap(err, "saving event window")
	}

	if had && w.Mode == prev.Mode && w.ExpiredThreshold == prev.ExpiredThreshold {
		return nil
	}

	pruned, err := l.prune(w)
	if pruned > 0 {
		if l.metrics != nil {
			l.metrics.PrunedEvents.Add(float64(pruned))
		}
		l.logger.WithFields(logrus.Fields{
			"pruned":  pruned,
			"expired": w.ExpiredThreshold,
		}).Debug("Event log pruned")
	}
	return err
}

// RestoredEventWindow returns the last window passed to SetEventWindow, as
// found when the log was opened or set since.
func (l *EventLog) RestoredEventWindow() (hashgraph.EventWindow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.window, l.hasWindow
}

// prune deletes the events whose ancient indicator is below the expired
// threshold of w, in batches. It returns the number of events deleted.
func (l *EventLog) prune(w hashgraph.EventWindow) (int, error) {
	prefix, other := generationPrefix, birthRoundPrefix
	if w.Mode == hashgraph.BirthRoundThreshold {
		prefix, other = birthRoundPrefix, generationPrefix
	}

	type indexed struct {
		key        []byte
		seq        int64
		otherValue int64
	}

	pruned := 0
	for {
		batch := []indexed{}

		err := l.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			p := []byte(prefix)

			for it.Seek(p); it.ValidForPrefix(p) && len(batch) < pruneBatch; it.Next() {
				item := it.Item()
				indicator, seq := decodeIndexKey(prefix, item.Key())
				if indicator >= w.ExpiredThreshold {
					break
				}
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				batch = append(batch, indexed{
					key:        item.KeyCopy(nil),
					seq:        seq,
					otherValue: bytesInt64(val),
				})
			}
			return nil
		})
		if err != nil {
			return pruned, errors.Wrap(err, "scanning expired events")
		}

		if len(batch) == 0 {
			return pruned, nil
		}

		err = l.db.Update(func(txn *badger.Txn) error {
			for _, b := range batch {
				if err := txn.Delete(b.key); err != nil {
					return err
				}
				if err := txn.Delete(eventKey(b.seq)); err != nil {
					return err
				}
				if err := txn.Delete(indexKey(other, b.otherValue, b.seq)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return pruned, errors.Wrap(err, "deleting expired events")
		}

		pruned += len(batch)
		if len(batch) < pruneBatch {
			return pruned, nil
		}
	}
}

// RequestFlush asks for every event up to seq to be made durable. It never
// blocks; requests are coalesced.
func (l *EventLog) RequestFlush(seq int64) {
	l.mu.Lock()
	if seq > l.requested {
		l.requested = seq
	}
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// WaitUntilDurable blocks until seq has been flushed, the context is done, or
// the log is closed.
func (l *EventLog) WaitUntilDurable(ctx context.Context, seq int64) error {
	for {
		l.mu.Lock()
		if l.flushed >= seq {
			l.mu.Unlock()
			return nil
		}
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		ch := l.durableCh
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FlushedSequence is the highest durable stream sequence number, or -1.
func (l *EventLog) FlushedSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushed
}

// NextSequence is the number the next appended event will receive.
func (l *EventLog) NextSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Replay calls fn for every logged event in sequence order. It stops at the
// first error returned by fn.
func (l *EventLog) Replay(fn func(*hashgraph.Event) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(eventPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq := int64(binary.BigEndian.Uint64(item.Key()[len(eventPrefix):]))

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			ev, err := hashgraph.UnmarshalEvent(val)
			if err != nil {
				return errors.Wrapf(err, "decoding event %d", seq)
			}
			ev.SetStreamSequenceNumber(seq)

			if err := fn(ev); err != nil {
				return err
			}
		}

		return nil
	})
}

// Close flushes what was requested, stops the flusher, and closes the
// database. Pending waiters return ErrClosed.
func (l *EventLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.closeCh)
	<-l.doneCh

	return l.db.Close()
}

func (l *EventLog) flushLoop() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.flushCh:
			l.flush()
		case <-l.closeCh:
			l.flush()
			l.mu.Lock()
			close(l.durableCh)
			l.durableCh = make(chan struct{})
			l.mu.Unlock()
			return
		}
	}
}

func (l *EventLog) flush() {
	l.mu.Lock()
	target := l.requested
	if target <= l.flushed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.db.Sync(); err != nil {
		l.logger.WithError(err).Error("Syncing event log")
		return
	}

	l.mu.Lock()
	l.flushed = target
	close(l.durableCh)
	l.durableCh = make(chan struct{})
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.FlushedSequence.Set(float64(target))
	}

	l.logger.WithField("seq", target).Debug("Event log flushed")
}

// lastSequence is one less than the stored next sequence number. Pruning may
// have removed every event, so the events themselves are only consulted when
// that key is missing.
func (l *EventLog) lastSequence() (int64, error) {
	last := int64(-1)

	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(nextSeqKey))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			last = bytesInt64(val) - 1
			return nil
		case err != badger.ErrKeyNotFound:
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventPrefix)
		// seek past the largest possible key under the prefix
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			last = int64(binary.BigEndian.Uint64(it.Item().Key()[len(eventPrefix):]))
		}
		return nil
	})
	if err != nil {
		return -1, errors.Wrap(err, "reading last sequence number")
	}

	return last, nil
}

func eventKey(seq int64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], uint64(seq))
	return key
}

func (l *EventLog) loadWindow() error {
	return l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(windowKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading event window")
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return errors.Wrap(err, "reading event window")
		}
		w, err := decodeWindow(val)
		if err != nil {
			return err
		}
		l.window, l.hasWindow = w, true
		return nil
	})
}

// indexKey orders entries by indicator, then by sequence number. The sign bit
// is flipped so that negative indicators sort first.
func indexKey(prefix string, indicator, seq int64) []byte {
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(indicator)^(1<<63))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], uint64(seq))
	return key
}

func decodeIndexKey(prefix string, key []byte) (indicator, seq int64) {
	indicator = int64(binary.BigEndian.Uint64(key[len(prefix):]) ^ (1 << 63))
	seq = int64(binary.BigEndian.Uint64(key[len(prefix)+8:]))
	return indicator, seq
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func bytesInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func encodeWindow(w hashgraph.EventWindow) []byte {
	b := make([]byte, 25)
	binary.BigEndian.PutUint64(b[0:], uint64(w.LatestConsensusRound))
	binary.BigEndian.PutUint64(b[8:], uint64(w.AncientThreshold))
	binary.BigEndian.PutUint64(b[16:], uint64(w.ExpiredThreshold))
	b[24] = byte(w.Mode)
	return b
}

func decodeWindow(b []byte) (hashgraph.EventWindow, error) {
	if len(b) != 25 {
		return hashgraph.EventWindow{}, errors.Errorf("stored event window has %d bytes", len(b))
	}
	return hashgraph.EventWindow{
		LatestConsensusRound: int64(binary.BigEndian.Uint64(b[0:])),
		AncientThreshold:     int64(binary.BigEndian.Uint64(b[8:])),
		ExpiredThreshold:     int64(binary.BigEndian.Uint64(b[16:])),
		Mode:                 hashgraph.AncientMode(b[24]),
	}, nil
}
