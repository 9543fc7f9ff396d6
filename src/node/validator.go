package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
)

//Validator holds the identity of the node: the key it signs its events with
//and its friendly name.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       uint32
	pubBytes []byte
	pubHex   string
}

//NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	v := &Validator{
		Key:     key,
		Moniker: moniker,
	}
	v.pubBytes = keys.FromPublicKey(&key.PublicKey)
	v.pubHex = keys.PublicKeyHex(&key.PublicKey)
	v.id = keys.PublicKeyID(v.pubBytes)
	return v
}

//ID is the node id, as used in the creator field of events.
func (v *Validator) ID() uint32 {
	return v.id
}

//PublicKeyBytes returns the validator's public key as a byte array
func (v *Validator) PublicKeyBytes() []byte {
	return v.pubBytes
}

//PublicKeyHex returns the validator's public key as a hex string. It is also
//the identity sent in the connection handshake.
func (v *Validator) PublicKeyHex() string {
	return v.pubHex
}
