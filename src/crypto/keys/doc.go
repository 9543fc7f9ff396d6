// Package keys implements the public key cryptography used to sign and verify
// hashgraph events.
//
// Every node owns a secp256k1 key-pair. The public key, in uncompressed hex
// form, is the node's identity in the peers.json address book and in the
// connection handshake. The private key signs the hash of every event the node
// creates, and peers verify that signature before they accept the event into
// their own graph.
package keys
