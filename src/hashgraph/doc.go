// Package hashgraph defines the events that make up the gossip DAG and the
// interface to the consensus engine that orders them.
//
// Events
//
// An Event is signed by its creator and references its parents by
// EventDescriptor: the hash of the parent plus the creator, generation and
// birth round. The descriptors carry enough information to decide whether a
// parent is ancient without having its body at hand, which is what the orphan
// buffer relies on.
//
// Events are serialized with the canonical msgpack handle of
// github.com/ugorji/go/codec. The hash of an event is the SHA256 of the
// canonical encoding of its EventBody, so every node computes the same hash
// from the bytes it received.
//
// Event windows
//
// The consensus engine publishes an EventWindow after every round. Events
// whose ancient indicator (generation or birth round, depending on the
// AncientMode) falls below the ancient threshold can no longer influence
// consensus and are dropped on intake. Events below the expired threshold are
// purged from memory. Thresholds never decrease.
//
// Consensus
//
// The virtual-voting algorithm itself lives outside this repository behind the
// Consensus interface. RelayConsensus is a stand-in that orders nothing but
// keeps the event window moving, so that a node can relay gossip with bounded
// memory.
package hashgraph
