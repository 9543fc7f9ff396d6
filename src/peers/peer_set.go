package peers

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/crypto"
)

//PeerSet is the address book of the network. It is immutable once built, so
//it can be shared between the intake worker and the gossip sessions.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`

	hash []byte
	hex  string
}

/* Constructors */

//NewPeerSet creates a new PeerSet from a list of Peers. Public keys must be
//valid and node ids must be unique.
func NewPeerSet(peers []*Peer) (*PeerSet, error) {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
	}

	for _, peer := range peers {
		if peer.PublicKey() == nil {
			return nil, fmt.Errorf("peer %q has an invalid public key %s", peer.Moniker, peer.PubKeyHex)
		}

		if other, ok := peerSet.ByID[peer.ID()]; ok {
			return nil, fmt.Errorf("peers %s and %s share node id %d", other.PubKeyHex, peer.PubKeyHex, peer.ID())
		}

		peerSet.ByPubKey[peer.PubKeyString()] = peer
		peerSet.ByID[peer.ID()] = peer
	}

	peerSet.Peers = peers
	peerSet.Hex()

	return peerSet, nil
}

/* Lookups */

//NodeID resolves the identity string sent during the connection handshake,
//which is the hex public key of the remote peer.
func (peerSet *PeerSet) NodeID(identity string) (uint32, bool) {
	b, err := common.DecodeFromString(identity)
	if err != nil {
		return 0, false
	}
	peer, ok := peerSet.ByPubKey[common.EncodeToString(b)]
	if !ok {
		return 0, false
	}
	return peer.ID(), true
}

//PublicKey returns the key registered for a node id, or nil if the node is not
//in the PeerSet.
func (peerSet *PeerSet) PublicKey(id uint32) *ecdsa.PublicKey {
	peer, ok := peerSet.ByID[id]
	if !ok {
		return nil
	}
	return peer.PublicKey()
}

//Contains returns true if the node id is part of the PeerSet
func (peerSet *PeerSet) Contains(id uint32) bool {
	_, ok := peerSet.ByID[id]
	return ok
}

/* ToSlice Methods */

//IDs returns the PeerSet's slice of IDs
func (peerSet *PeerSet) IDs() []uint32 {
	res := []uint32{}
	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}
	return res
}

/* Utilities */

//Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

// Hash uniquely identifies a PeerSet. It is computed by hashing (SHA256) their
// public keys together, one by one. The constructor fills the cache.
func (peerSet *PeerSet) Hash() []byte {
	if len(peerSet.hash) == 0 {
		hash := []byte{}
		for _, p := range peerSet.Peers {
			hash = crypto.SimpleHashFromTwoHashes(hash, p.PubKeyBytes())
		}
		peerSet.hash = hash
	}
	return peerSet.hash
}

//Hex is the hexadecimal representation of Hash
func (peerSet *PeerSet) Hex() string {
	if len(peerSet.hex) == 0 {
		peerSet.hex = common.EncodeToString(peerSet.Hash())
	}
	return peerSet.hex
}

//SuperMajority return the number of peers that forms a strong majortiy (+2/3)
//in the PeerSet
func (peerSet *PeerSet) SuperMajority() int {
	return 2*peerSet.Len()/3 + 1
}
