package gossip

import (
	"bytes"
	"context"
	"encoding/binary"
	gonet "net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/intake"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/net"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

var testVersion = version.SoftwareVersion{Major: 1}

type testPeer struct {
	node     *hashgraph.TestNode
	pipeline *intake.Pipeline
	sync     *Synchronizer
	metrics  *metrics.Metrics
}

func newTestPeer(t *testing.T, ctx context.Context, node *hashgraph.TestNode, book *peers.PeerSet, cons hashgraph.Consensus) *testPeer {
	m := metrics.NewMetrics()
	logger := common.NewTestEntry(t, logrus.DebugLevel).WithField("node", node.ID)

	p := intake.NewPipeline(intake.Config{
		Consensus:      cons,
		CurrentVersion: testVersion,
		CurrentBook:    book,
		Dedup:          true,
		Capacity:       100,
		Metrics:        m,
		Logger:         logger,
	})
	go p.Run(ctx)

	return &testPeer{
		node:     node,
		pipeline: p,
		sync:     NewSynchronizer(p.Shadowgraph(), p, m, logger),
		metrics:  m,
	}
}

func (p *testPeer) feed(t *testing.T, ctx context.Context, events ...*hashgraph.Event) {
	for _, e := range events {
		require.NoError(t, p.pipeline.Submit(ctx, e))
	}
	require.Eventually(t, func() bool {
		return p.pipeline.Counter().Inflight() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func (p *testPeer) tipGenerations() map[uint32]int64 {
	res := map[uint32]int64{}
	for c, se := range p.pipeline.Shadowgraph().Tips() {
		res[c] = se.Event.Generation()
	}
	return res
}

// connect returns both ends of a handshaked in-memory connection.
func connect(t *testing.T, book *peers.PeerSet, client, server *hashgraph.TestNode) (*net.Conn, *net.Conn) {
	a, b := gonet.Pipe()
	cc := net.NewConn(a, "server", time.Second)
	sc := net.NewConn(b, "client", time.Second)

	conf := func(n *hashgraph.TestNode) net.HandshakeConfig {
		return net.HandshakeConfig{
			Version:      testVersion,
			CheckVersion: true,
			Identity:     keys.PublicKeyHex(&n.Key.PublicKey),
			Peers:        book,
			Timeout:      time.Second,
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- net.ServerHandshake(sc, conf(server)) }()
	require.NoError(t, net.ClientHandshake(cc, conf(client), server.ID))
	require.NoError(t, <-errCh)

	return cc, sc
}

func chain(b *hashgraph.TestEventBuilder, node *hashgraph.TestNode, n int) []*hashgraph.Event {
	res := []*hashgraph.Event{}
	var prev *hashgraph.Event
	for i := 0; i < n; i++ {
		prev = b.Create(node, prev, nil, 1)
		res = append(res, prev)
	}
	return res
}

type syncOutcome struct {
	res Result
	err error
}

func syncBoth(ctx context.Context, p1, p2 *testPeer, c1, c2 *net.Conn) (syncOutcome, syncOutcome) {
	ch := make(chan syncOutcome, 1)
	go func() {
		res, err := p2.sync.Synchronize(ctx, c2)
		ch <- syncOutcome{res, err}
	}()
	res, err := p1.sync.Synchronize(ctx, c1)
	return syncOutcome{res, err}, <-ch
}

// Two peers with tips {A: 5} and {A: 5, B: 3} end up with the same tips.
func TestSynchronizeDisjointTips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, err := hashgraph.NewTestNodes(2)
	require.NoError(t, err)
	book, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)
	a, b := nodes[0], nodes[1]

	builder := hashgraph.NewTestEventBuilder(testVersion)
	aEvents := chain(builder, a, 6)
	bEvents := chain(builder, b, 4)

	relay := func() hashgraph.Consensus {
		return hashgraph.NewRelayConsensus(hashgraph.GenerationThreshold, 1, 100, 100)
	}
	p1 := newTestPeer(t, ctx, a, book, relay())
	p2 := newTestPeer(t, ctx, b, book, relay())

	p1.feed(t, ctx, aEvents...)
	p2.feed(t, ctx, aEvents...)
	p2.feed(t, ctx, bEvents...)

	c1, c2 := connect(t, book, a, b)
	o1, o2 := syncBoth(ctx, p1, p2, c1, c2)
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)

	assert.Equal(t, 0, o1.res.Sent)
	assert.Equal(t, 4, o1.res.Received)
	assert.Equal(t, 4, o2.res.Sent)
	assert.Equal(t, b.ID, o1.res.PeerID)
	assert.Equal(t, a.ID, o2.res.PeerID)

	require.Eventually(t, func() bool {
		return p1.pipeline.Shadowgraph().Contains(bEvents[3].Hex())
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, map[uint32]int64{a.ID: 5, b.ID: 3}, p1.tipGenerations())

	// a second session has nothing left to exchange
	o1, o2 = syncBoth(ctx, p1, p2, c1, c2)
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)
	assert.Equal(t, 0, o1.res.Sent+o2.res.Sent)
}

// Events below either side's ancient threshold are never sent.
func TestSynchronizeRespectsAncientThresholds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, err := hashgraph.NewTestNodes(2)
	require.NoError(t, err)
	book, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)
	a, b := nodes[0], nodes[1]

	builder := hashgraph.NewTestEventBuilder(testVersion)
	aEvents := chain(builder, a, 6)
	bEvents := chain(builder, b, 4)

	// ancient threshold 2 and expired threshold 1 once generation 5 is seen
	relay := func() hashgraph.Consensus {
		return hashgraph.NewRelayConsensus(hashgraph.GenerationThreshold, 1, 3, 4)
	}
	p1 := newTestPeer(t, ctx, a, book, relay())
	p2 := newTestPeer(t, ctx, b, book, relay())

	// p2 links all of b before a pushes the window forward, so b1 is
	// ancient but still in its graph
	p1.feed(t, ctx, aEvents...)
	p2.feed(t, ctx, bEvents...)
	p2.feed(t, ctx, aEvents...)
	require.True(t, p2.pipeline.Shadowgraph().Contains(bEvents[1].Hex()))
	require.Equal(t, int64(2), p1.pipeline.EventWindow().AncientThreshold)
	require.Equal(t, int64(2), p2.pipeline.EventWindow().AncientThreshold)

	c1, c2 := connect(t, book, a, b)
	o1, o2 := syncBoth(ctx, p1, p2, c1, c2)
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)

	assert.Equal(t, 2, o2.res.Sent, "only b2 and b3 are above the threshold")

	require.Eventually(t, func() bool {
		return p1.pipeline.Shadowgraph().Contains(bEvents[3].Hex())
	}, 5*time.Second, 5*time.Millisecond)

	assert.False(t, p1.pipeline.Shadowgraph().Contains(bEvents[1].Hex()))
	assert.Equal(t, map[uint32]int64{a.ID: 5, b.ID: 3}, p1.tipGenerations())
}

func TestSynchronizeCanceled(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(2)
	require.NoError(t, err)
	book, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p1 := newTestPeer(t, ctx, nodes[0], book, hashgraph.NewRelayConsensus(hashgraph.GenerationThreshold, 1, 10, 10))

	// the other end never answers, and has no read timeout to rescue us
	a, _ := gonet.Pipe()
	conn := net.NewConn(a, "silent", 0)

	// metrics and logger are optional
	syncer := NewSynchronizer(p1.pipeline.Shadowgraph(), p1.pipeline, nil, nil)

	syncCtx, syncCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := syncer.Synchronize(syncCtx, conn)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	syncCancel()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("cancellation should unblock the session")
	}
}

func TestTipsRoundTrip(t *testing.T) {
	summary := TipSummary{
		AncientThreshold: 7,
		ExpiredThreshold: -1,
		Tips: []hashgraph.EventDescriptor{
			{Hash: "0XABCD", Creator: 1, Generation: 9, BirthRound: 3},
			{Hash: "0X1234", Creator: 2, Generation: 8, BirthRound: 2},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTips(&buf, summary))

	decoded, err := ReadTips(&buf)
	require.NoError(t, err)
	assert.Equal(t, summary, decoded)
}

func TestReadEventsProtocolErrors(t *testing.T) {
	ignore := func(*hashgraph.Event) error { return nil }

	_, err := ReadEvents(bytes.NewReader([]byte{0x99}), ignore)
	assert.Error(t, err, "unknown marker")

	oversized := []byte{CommEventNext, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(oversized[1:], MaxEventSize+1)
	_, err = ReadEvents(bytes.NewReader(oversized), ignore)
	assert.Error(t, err, "oversized frame")

	_, err = ReadEvents(bytes.NewReader([]byte{CommEventNext, 0, 0, 0, 3, 1, 2, 3}), ignore)
	assert.Error(t, err, "garbage event")

	_, err = ReadEvents(bytes.NewReader([]byte{CommEventNext}), ignore)
	assert.Error(t, err, "truncated frame")

	n, err := ReadEvents(bytes.NewReader([]byte{CommEventDone}), ignore)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
