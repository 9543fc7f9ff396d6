package peers

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
)

// Peer is a member of the address book.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id     uint32
	pubKey *ecdsa.PublicKey
}

// NewPeer creates a new peer based on a public key and network address
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// ID returns the node id derived from the public key.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		p.id = keys.PublicKeyID(p.PubKeyBytes())
	}
	return p.id
}

// PubKeyString returns the upper-case version of PubKeyHex. It is used for
// indexing in maps with string keys.
func (p *Peer) PubKeyString() string {
	return common.EncodeToString(p.PubKeyBytes())
}

// PubKeyBytes converts the hex string representation to a byte slice. It
// returns nil if the hex is malformed.
func (p *Peer) PubKeyBytes() []byte {
	b, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return nil
	}
	return b
}

// PublicKey parses PubKeyHex. It returns nil when the peer does not carry a
// valid secp256k1 point.
func (p *Peer) PublicKey() *ecdsa.PublicKey {
	if p.pubKey == nil {
		p.pubKey = keys.ToPublicKey(p.PubKeyBytes())
	}
	return p.pubKey
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, peer uint32) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.ID() != peer {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
