package node

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/hashgossip/src/common"
	hg "github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/intake"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

func newTestCore(t *testing.T, n int) (*Core, []*hg.TestNode) {
	nodes, err := hg.NewTestNodes(n)
	require.NoError(t, err)
	book, err := hg.NewTestPeerSet(nodes)
	require.NoError(t, err)

	logger := common.NewTestEntry(t, logrus.DebugLevel)
	pipeline := intake.NewPipeline(intake.Config{
		Consensus:      hg.NewRelayConsensus(hg.BirthRoundThreshold, 1, 10, 20),
		CurrentVersion: version.Current(),
		CurrentBook:    book,
		Capacity:       16,
		Logger:         logger,
	})

	return NewCore(NewValidator(nodes[0].Key, "node0"), book, pipeline, version.Current(), logger), nodes
}

func TestAddSelfEvent(t *testing.T) {
	core, nodes := newTestCore(t, 2)
	ctx := context.Background()

	core.AddTransactions([][]byte{[]byte("a"), []byte("b")})
	require.True(t, core.Busy())

	require.NoError(t, core.AddSelfEvent(ctx, nil))

	first := core.Head()
	require.NotNil(t, first)
	assert.Nil(t, first.SelfParent())
	assert.Empty(t, first.OtherParents())
	assert.Equal(t, int64(1), first.BirthRound())
	assert.Len(t, first.Transactions(), 2)
	assert.Equal(t, nodes[0].ID, first.SenderID())
	assert.True(t, first.Verify(&nodes[0].Key.PublicKey))
	assert.False(t, core.Busy())

	// the other parent is born in a later round than we know of
	other := hg.NewTestEventBuilder(version.Current()).Create(nodes[1], nil, nil, 7)
	otherTip := other.Descriptor()

	require.NoError(t, core.AddSelfEvent(ctx, &otherTip))

	second := core.Head()
	require.NotNil(t, second.SelfParent())
	assert.Equal(t, first.Hex(), second.SelfParent().Hash)
	require.Len(t, second.OtherParents(), 1)
	assert.Equal(t, other.Hex(), second.OtherParents()[0].Hash)
	assert.Equal(t, int64(7), second.BirthRound())
	assert.True(t, second.TimeCreated().After(first.TimeCreated()))
	assert.Equal(t, hg.ComputeGeneration(second.SelfParent(), second.OtherParents()), second.Generation())
}

func TestAddSelfEventIgnoresOwnTipAsOtherParent(t *testing.T) {
	core, _ := newTestCore(t, 2)
	ctx := context.Background()

	require.NoError(t, core.AddSelfEvent(ctx, nil))
	own := core.Head().Descriptor()

	require.NoError(t, core.AddSelfEvent(ctx, &own))
	assert.Empty(t, core.Head().OtherParents())
}

func TestRecordRound(t *testing.T) {
	core, nodes := newTestCore(t, 1)
	b := hg.NewTestEventBuilder(version.Current())

	e0 := b.Create(nodes[0], nil, nil, 0, []byte("x"), []byte("y"))
	e1 := b.Create(nodes[0], e0, nil, 0, []byte("z"))

	assert.Equal(t, int64(-1), core.GetLastConsensusRoundIndex())

	core.RecordRound(&hg.ConsensusRound{RoundNum: 3, Events: []*hg.Event{e0, e1}})

	assert.Equal(t, int64(3), core.GetLastConsensusRoundIndex())
	assert.Equal(t, int64(2), core.GetConsensusEventsCount())
	assert.Equal(t, int64(3), core.GetConsensusTransactionsCount())
	assert.Equal(t, int64(2), core.GetLastCommitedRoundEventsCount())
}

func TestRandomPeerSelector(t *testing.T) {
	_, peerSet := initPeers(t, 3)
	self := peerSet.Peers[0].ID()
	ps := NewRandomPeerSelector(peerSet, self)

	for i := 0; i < 20; i++ {
		p := ps.Next(nil)
		require.NotNil(t, p)
		require.NotEqual(t, self, p.ID())
		ps.UpdateLast(p.ID())

		// the last peer is avoided while there is another choice
		next := ps.Next(nil)
		require.NotEqual(t, p.ID(), next.ID())
	}

	only := peerSet.Peers[2].ID()
	skip := func(id uint32) bool { return id != only }
	for i := 0; i < 5; i++ {
		require.Equal(t, only, ps.Next(skip).ID())
	}

	require.Nil(t, ps.Next(func(uint32) bool { return true }))
}
