// Package node implements the reactive component of a hashgossip node.
//
// This is the part that controls the gossip routines and creates the node's
// own events. Everything a node learns, from peers or from itself, goes
// through the intake pipeline, which validates, buffers, links and hands the
// events to consensus on a single worker.
//
// Gossip
//
// Nodes gossip by repeatedly choosing another node at random and telling
// eachother what they know about the hashgraph. A session starts with both
// sides exchanging the tips of their graphs, after which each side streams the
// events the other is missing, in topological order. The gossip package
// implements the session and the net package the connections it runs on.
//
// A node never runs two outbound sessions with the same peer, and skips peers
// whose events from an earlier session are still in the intake pipeline.
//
// Self-events
//
// Transactions submitted with SubmitTx wait in a pool. After a successful
// session, if the pool is not empty, the node records a self-event whose
// self-parent is its previous self-event and whose other-parent is the tip of
// the peer it just synced with. A node alone in the address book records
// self-events without an other-parent.
//
// States
//
// A node is Gossiping, Paused, or Shutdown. A Paused node still serves inbound
// sessions and links what it receives, but does not initiate gossip and does
// not feed consensus.
package node
