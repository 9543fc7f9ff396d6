// Package peers defines the address book of a gossip network.
//
// A peer is identified by its public key, and optionaly a moniker which is a
// non-unique user-friendly name. It also specifies an IP address and port where
// it can be reached by other peers. The node id that appears in events as the
// creator field is derived from the public key (see keys.PublicKeyID).
//
// Upon starting up, a node expects to find a peers.json file in its data
// directory. It is the current address book, used to verify events created
// with the current software version and to resolve the identity sent by
// inbound connections. During a network upgrade, the address book that was in
// force before the upgrade can be placed in peers.previous.json. Events stamped
// with an older software version are verified against it; without it they are
// rejected.
package peers
