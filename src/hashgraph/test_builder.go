package hashgraph

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

// TestNode bundles a key and the matching node id. It is used by tests across
// packages to build signed event graphs.
type TestNode struct {
	ID  uint32
	Key *ecdsa.PrivateKey
}

// NewTestNodes generates n nodes with fresh keys.
func NewTestNodes(n int) ([]*TestNode, error) {
	nodes := make([]*TestNode, 0, n)
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &TestNode{
			ID:  keys.PublicKeyID(keys.FromPublicKey(&key.PublicKey)),
			Key: key,
		})
	}
	return nodes, nil
}

// NewTestPeerSet builds the address book of a set of TestNodes.
func NewTestPeerSet(nodes []*TestNode) (*peers.PeerSet, error) {
	ps := make([]*peers.Peer, 0, len(nodes))
	for i, n := range nodes {
		ps = append(ps, peers.NewPeer(
			keys.PublicKeyHex(&n.Key.PublicKey),
			fmt.Sprintf("127.0.0.1:%d", 9000+i),
			fmt.Sprintf("node%d", i),
		))
	}
	return peers.NewPeerSet(ps)
}

// TestEventBuilder creates signed events with strictly increasing creation
// times.
type TestEventBuilder struct {
	Version version.SoftwareVersion
	now     time.Time
}

// NewTestEventBuilder ...
func NewTestEventBuilder(v version.SoftwareVersion) *TestEventBuilder {
	return &TestEventBuilder{
		Version: v,
		now:     time.Unix(1600000000, 0),
	}
}

// Create returns a signed event. Parents may be nil. It panics on failure,
// which only happens if the key is broken.
func (b *TestEventBuilder) Create(node *TestNode, selfParent *Event, otherParents []*Event, birthRound int64, txs ...[]byte) *Event {
	var sp *EventDescriptor
	if selfParent != nil {
		d := selfParent.Descriptor()
		sp = &d
	}

	var ops []EventDescriptor
	for _, op := range otherParents {
		ops = append(ops, op.Descriptor())
	}

	b.now = b.now.Add(time.Millisecond)

	ev, err := NewEvent(node.ID, sp, ops, birthRound, b.now, txs, b.Version)
	if err != nil {
		panic(err)
	}
	if err := ev.Sign(node.Key); err != nil {
		panic(err)
	}
	ev.SetSenderID(node.ID)
	return ev
}
