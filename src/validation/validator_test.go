package validation

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

var (
	v1 = version.SoftwareVersion{Major: 1}
	v2 = version.SoftwareVersion{Major: 2}
)

type validatorFixture struct {
	nodes     []*hashgraph.TestNode
	book      *peers.PeerSet
	builder   *hashgraph.TestEventBuilder
	counter   *hashgraph.CountingIntakeEventCounter
	metrics   *metrics.Metrics
	validator *EventValidator
}

func newValidatorFixture(t *testing.T, n int, dedup bool) *validatorFixture {
	nodes, err := hashgraph.NewTestNodes(n)
	require.NoError(t, err)

	book, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)

	f := &validatorFixture{
		nodes:   nodes,
		book:    book,
		builder: hashgraph.NewTestEventBuilder(v1),
		counter: hashgraph.NewCountingIntakeEventCounter(),
		metrics: metrics.NewMetrics(),
	}

	f.validator = NewEventValidator(
		v1,
		nil,
		book,
		16,
		hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold),
		dedup,
		f.counter,
		f.metrics,
		common.NewTestEntry(t, logrus.DebugLevel),
	)

	return f
}

// resign rebuilds an event from a modified body and signs it again.
func resign(t *testing.T, node *hashgraph.TestNode, body hashgraph.EventBody) *hashgraph.Event {
	ev, err := hashgraph.NewEventFromBody(body, "")
	require.NoError(t, err)
	require.NoError(t, ev.Sign(node.Key))
	ev.SetSenderID(node.ID)
	return ev
}

func (f *validatorFixture) invalidCount(v Verdict) float64 {
	return testutil.ToFloat64(f.metrics.InvalidEvents.WithLabelValues(v.String()))
}

func TestValidatorAcceptsWellFormedEvents(t *testing.T) {
	f := newValidatorFixture(t, 2, true)

	a0 := f.builder.Create(f.nodes[0], nil, nil, 1)
	b0 := f.builder.Create(f.nodes[1], nil, nil, 1)
	a1 := f.builder.Create(f.nodes[0], a0, []*hashgraph.Event{b0}, 1, []byte("0123456789"))

	for _, ev := range []*hashgraph.Event{a0, b0, a1} {
		assert.Equal(t, Valid, f.validator.Validate(ev), ev.String())
	}

	assert.Equal(t, 0, f.counter.Total())
}

func TestValidatorStatelessChecks(t *testing.T) {
	f := newValidatorFixture(t, 2, false)
	a, b := f.nodes[0], f.nodes[1]

	a0 := f.builder.Create(a, nil, nil, 1)
	b0 := f.builder.Create(b, nil, nil, 3)

	unsigned, err := hashgraph.NewEventFromBody(a0.Body, "")
	require.NoError(t, err)
	unsigned.SetSenderID(b.ID)

	heavy := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 3, []byte("0123456789"), []byte("0123456789"))

	sameParents := a0.Descriptor()
	selfAsOther := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 3)
	selfAsOtherBody := selfAsOther.Body
	selfAsOtherBody.OtherParents = []hashgraph.EventDescriptor{sameParents}
	selfAsOther = resign(t, a, selfAsOtherBody)

	wrongGen := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 3)
	wrongGenBody := wrongGen.Body
	wrongGenBody.Generation = 5
	wrongGen = resign(t, a, wrongGenBody)

	hashWithoutGen := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 3)
	hashWithoutGenBody := hashWithoutGen.Body
	hashWithoutGenBody.OtherParents = []hashgraph.EventDescriptor{
		{Hash: b0.Hex(), Creator: b.ID, Generation: hashgraph.NoGeneration},
	}
	hashWithoutGen = resign(t, a, hashWithoutGenBody)

	youngerThanParent := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 2)

	cases := []struct {
		name    string
		event   *hashgraph.Event
		verdict Verdict
	}{
		{"missing signature", unsigned, MissingSignature},
		{"too many transaction bytes", heavy, TooManyTransactionBytes},
		{"self-parent as other-parent", selfAsOther, InvalidParents},
		{"inconsistent generation", wrongGen, InvalidParents},
		{"hash without generation", hashWithoutGen, InvalidParents},
		{"birth round below parent", youngerThanParent, InvalidBirthRound},
	}

	expected := map[Verdict]float64{}
	for _, c := range cases {
		expected[c.verdict]++
		assert.Equal(t, c.verdict, f.validator.Validate(c.event), c.name)
		assert.Equal(t, expected[c.verdict], f.invalidCount(c.verdict), c.name)
	}

	assert.Equal(t, 1, f.counter.Exits(b.ID), "unsigned event was received from b")
	assert.Equal(t, len(cases)-1, f.counter.Exits(a.ID))
}

func TestValidatorSingleNodeMayUseSelfAsOtherParent(t *testing.T) {
	f := newValidatorFixture(t, 1, false)
	a := f.nodes[0]

	a0 := f.builder.Create(a, nil, nil, 1)
	a1 := f.builder.Create(a, a0, []*hashgraph.Event{a0}, 1)

	assert.Equal(t, Valid, f.validator.Validate(a1))
}

func TestValidatorAncient(t *testing.T) {
	f := newValidatorFixture(t, 2, false)
	a, b := f.nodes[0], f.nodes[1]

	a0 := f.builder.Create(a, nil, nil, 1)
	b0 := f.builder.Create(b, nil, nil, 1)
	a1 := f.builder.Create(a, a0, []*hashgraph.Event{b0}, 1)

	f.validator.SetEventWindow(hashgraph.NewEventWindow(3, 1, 0, hashgraph.GenerationThreshold))

	assert.Equal(t, Ancient, f.validator.Validate(a0))
	assert.Equal(t, Valid, f.validator.Validate(a1))

	// a window moving backwards is refused
	f.validator.SetEventWindow(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold))
	assert.Equal(t, int64(1), f.validator.EventWindow().AncientThreshold)
	assert.Equal(t, Ancient, f.validator.Validate(b0))

	assert.Equal(t, 2, f.counter.Total())
}

func TestValidatorDeduplication(t *testing.T) {
	f := newValidatorFixture(t, 2, true)
	a := f.nodes[0]

	a0 := f.builder.Create(a, nil, nil, 1)

	assert.Equal(t, Valid, f.validator.Validate(a0))
	assert.Equal(t, Duplicate, f.validator.Validate(a0))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicateEvents))

	// same descriptor, fresh signature
	twin := resign(t, a, a0.Body)
	require.NotEqual(t, a0.Signature, twin.Signature)

	assert.Equal(t, Valid, f.validator.Validate(twin))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DisparateSignatures))

	// a bogus signature on a known descriptor gets past the filter but not the
	// signature check
	forged, err := hashgraph.NewEventFromBody(a0.Body, "1|1")
	require.NoError(t, err)
	assert.Equal(t, InvalidSignature, f.validator.Validate(forged))

	assert.Equal(t, 2, f.counter.Total())
}

func TestDeduplicatorForgetsAncientDescriptors(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(1)
	require.NoError(t, err)
	b := hashgraph.NewTestEventBuilder(v1)

	d := NewDeduplicator(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold), metrics.NewMetrics())

	prev := b.Create(nodes[0], nil, nil, 1)
	d.Handle(prev)
	for i := 0; i < 9; i++ {
		prev = b.Create(nodes[0], prev, nil, 1)
		d.Handle(prev)
	}
	assert.Equal(t, 10, d.Len())

	d.SetEventWindow(hashgraph.NewEventWindow(2, 4, 4, hashgraph.GenerationThreshold))
	assert.Equal(t, 6, d.Len())
}

func TestSignatureAddressBookSelection(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(3)
	require.NoError(t, err)

	// node 2 only exists in the previous book
	previous, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)
	current, err := hashgraph.NewTestPeerSet(nodes[:2])
	require.NoError(t, err)

	genesis := hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold)
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	withPrevious := NewEventValidator(v2, previous, current, 0, genesis, false, nil, metrics.NewMetrics(), logger)
	withoutPrevious := NewEventValidator(v2, nil, current, 0, genesis, false, nil, metrics.NewMetrics(), logger)

	old := hashgraph.NewTestEventBuilder(v1)
	now := hashgraph.NewTestEventBuilder(v2)
	future := hashgraph.NewTestEventBuilder(version.SoftwareVersion{Major: 3})

	cases := []struct {
		name      string
		validator *EventValidator
		event     *hashgraph.Event
		verdict   Verdict
	}{
		{"current version, current book", withPrevious, now.Create(nodes[0], nil, nil, 1), Valid},
		{"current version, creator only in previous book", withPrevious, now.Create(nodes[2], nil, nil, 1), InvalidSignature},
		{"older version, previous book", withPrevious, old.Create(nodes[2], nil, nil, 1), Valid},
		{"older version, no previous book", withoutPrevious, old.Create(nodes[0], nil, nil, 1), InvalidSignature},
		{"newer version", withPrevious, future.Create(nodes[0], nil, nil, 1), InvalidSignature},
	}

	for _, c := range cases {
		assert.Equal(t, c.verdict, c.validator.Validate(c.event), c.name)
	}
}

func TestSignatureTamperedBody(t *testing.T) {
	f := newValidatorFixture(t, 2, false)

	a0 := f.builder.Create(f.nodes[0], nil, nil, 1)

	body := a0.Body
	body.Timestamp += int64(time.Second)
	tampered, err := hashgraph.NewEventFromBody(body, a0.Signature)
	require.NoError(t, err)

	assert.Equal(t, InvalidSignature, f.validator.Validate(tampered))
	assert.Equal(t, 1.0, f.invalidCount(InvalidSignature))
}

func TestIsValidTimeCreated(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(1)
	require.NoError(t, err)
	a := nodes[0]

	at := func(sp *hashgraph.Event, ts time.Time) *hashgraph.Event {
		var d *hashgraph.EventDescriptor
		if sp != nil {
			desc := sp.Descriptor()
			d = &desc
		}
		ev, err := hashgraph.NewEvent(a.ID, d, nil, 1, ts, nil, v1)
		require.NoError(t, err)
		return ev
	}

	t0 := time.Unix(1700000000, 0)
	parent := at(nil, t0)

	assert.True(t, IsValidTimeCreated(parent, nil))
	assert.True(t, IsValidTimeCreated(at(parent, t0.Add(time.Nanosecond)), parent))
	assert.False(t, IsValidTimeCreated(at(parent, t0), parent))
	assert.False(t, IsValidTimeCreated(at(parent, t0.Add(-time.Second)), parent))
}

func TestValidatorWithoutMetricsOrLogger(t *testing.T) {
	nodes, err := hashgraph.NewTestNodes(1)
	require.NoError(t, err)
	book, err := hashgraph.NewTestPeerSet(nodes)
	require.NoError(t, err)

	validator := NewEventValidator(v1, nil, book, 0,
		hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold), true, nil, nil, nil)

	ev := hashgraph.NewTestEventBuilder(v1).Create(nodes[0], nil, nil, 1)
	assert.Equal(t, Valid, validator.Validate(ev))
	assert.Equal(t, Duplicate, validator.Validate(ev))

	ev.Signature = ""
	assert.Equal(t, MissingSignature, validator.Validate(ev))
}
