package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

func chain(t *testing.T, n int) []*hashgraph.Event {
	nodes, err := hashgraph.NewTestNodes(1)
	require.NoError(t, err)

	b := hashgraph.NewTestEventBuilder(version.SoftwareVersion{Major: 1})
	events := make([]*hashgraph.Event, 0, n)
	var prev *hashgraph.Event
	for i := 0; i < n; i++ {
		prev = b.Create(nodes[0], prev, nil, 1, []byte{byte(i)})
		events = append(events, prev)
	}
	return events
}

func TestEventLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	log, err := NewEventLog(dir, nil, logger)
	require.NoError(t, err)

	events := chain(t, 5)
	for i, e := range events {
		require.NoError(t, log.Append(e))
		assert.Equal(t, int64(i), e.StreamSequenceNumber())
	}
	require.NoError(t, log.Close())

	// reopen and continue the sequence
	log, err = NewEventLog(dir, nil, logger)
	require.NoError(t, err)
	defer log.Close()

	assert.Equal(t, int64(5), log.NextSequence())
	assert.Equal(t, int64(4), log.FlushedSequence())

	var replayed []*hashgraph.Event
	err = log.Replay(func(e *hashgraph.Event) error {
		replayed = append(replayed, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, len(events))

	for i, e := range replayed {
		assert.Equal(t, events[i].Hex(), e.Hex())
		assert.Equal(t, events[i].Signature, e.Signature)
		assert.Equal(t, int64(i), e.StreamSequenceNumber())
	}

	// replayed events are not written twice
	require.NoError(t, log.Append(replayed[2]))
	assert.Equal(t, int64(5), log.NextSequence())
}

func TestEventLogFlush(t *testing.T) {
	m := metrics.NewMetrics()
	log, err := NewEventLog(t.TempDir(), m, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)
	defer log.Close()

	for _, e := range chain(t, 3) {
		require.NoError(t, log.Append(e))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := log.WaitUntilDurable(ctx, 1); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline before any flush request, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- log.WaitUntilDurable(context.Background(), 1)
	}()

	log.RequestFlush(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for flush")
	}

	assert.GreaterOrEqual(t, log.FlushedSequence(), int64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.FlushedSequence), 1.0)

	// already durable returns immediately
	require.NoError(t, log.WaitUntilDurable(context.Background(), 0))
}

func TestEventLogCloseReleasesWaiters(t *testing.T) {
	log, err := NewEventLog(t.TempDir(), nil, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- log.WaitUntilDurable(context.Background(), 10)
	}()

	// give the waiter time to block
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, log.Close())

	select {
	case err := <-done:
		assert.Equal(t, ErrClosed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Close")
	}

	assert.Equal(t, ErrClosed, log.Append(chain(t, 1)[0]))
}

func replayAll(t *testing.T, log *EventLog) []*hashgraph.Event {
	var res []*hashgraph.Event
	require.NoError(t, log.Replay(func(e *hashgraph.Event) error {
		res = append(res, e)
		return nil
	}))
	return res
}

func TestEventLogFollowsEventWindow(t *testing.T) {
	dir := t.TempDir()
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	m := metrics.NewMetrics()

	log, err := NewEventLog(dir, m, logger)
	require.NoError(t, err)

	_, ok := log.RestoredEventWindow()
	assert.False(t, ok)

	// generations 0 to 9
	events := chain(t, 10)
	for _, e := range events[:6] {
		require.NoError(t, log.Append(e))
	}

	w := hashgraph.NewEventWindow(2, 7, 4, hashgraph.GenerationThreshold)
	require.NoError(t, log.SetEventWindow(w))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PrunedEvents))

	// ancient events are refused, the others keep the sequence going
	require.NoError(t, log.Append(events[6]))
	assert.Equal(t, int64(-1), events[6].StreamSequenceNumber())
	require.NoError(t, log.Append(events[7]))
	assert.Equal(t, int64(6), events[7].StreamSequenceNumber())

	// a lower window is ignored and prunes nothing
	require.NoError(t, log.SetEventWindow(hashgraph.NewEventWindow(1, 5, 2, hashgraph.GenerationThreshold)))
	restored, ok := log.RestoredEventWindow()
	require.True(t, ok)
	assert.Equal(t, w, restored)

	replayed := replayAll(t, log)
	require.Len(t, replayed, 3)
	for i, gen := range []int64{4, 5, 7} {
		assert.Equal(t, gen, replayed[i].Generation())
	}
	require.NoError(t, log.Close())

	// the window and the sequence survive a restart, even with every event gone
	log, err = NewEventLog(dir, nil, logger)
	require.NoError(t, err)
	defer log.Close()

	restored, ok = log.RestoredEventWindow()
	require.True(t, ok)
	assert.Equal(t, w, restored)

	require.NoError(t, log.SetEventWindow(hashgraph.NewEventWindow(3, 20, 20, hashgraph.GenerationThreshold)))
	assert.Empty(t, replayAll(t, log))
	assert.Equal(t, int64(7), log.NextSequence())
}

func TestEventLogPrunesByBirthRound(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(1)
	require.NoError(t, err)
	b := hashgraph.NewTestEventBuilder(version.SoftwareVersion{Major: 1})

	log, err := NewEventLog(t.TempDir(), nil, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)
	defer log.Close()

	// birth rounds 1, 1, 2, 3 on generations 0 to 3
	var prev *hashgraph.Event
	for _, br := range []int64{1, 1, 2, 3} {
		prev = b.Create(nodes[0], prev, nil, br)
		require.NoError(t, log.Append(prev))
	}

	require.NoError(t, log.SetEventWindow(hashgraph.NewEventWindow(2, 3, 2, hashgraph.BirthRoundThreshold)))

	replayed := replayAll(t, log)
	require.Len(t, replayed, 2)
	assert.Equal(t, int64(2), replayed[0].BirthRound())
	assert.Equal(t, int64(3), replayed[1].BirthRound())
}
