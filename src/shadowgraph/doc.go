// Package shadowgraph keeps the non-expired part of the hashgraph in memory.
//
// Events are stored in an arena indexed by hash. Links between events are
// hashes resolved through that index. A parent that is not in the graph,
// because it was already ancient on insertion or expired since, is recorded
// with the Ancient tag instead of a hash that could dangle.
//
// The intake worker is the only writer. Gossip sessions read tip summaries and
// compute event diffs concurrently.
package shadowgraph
