// Package net carries gossip sessions between hashgossip nodes over TCP.
//
// A Transport dials peers through a StreamLayer and keeps a small pool of
// connections per target. Every new connection starts with a handshake:
//
//	client -> server  [version 12 bytes, optional][identity length uint16][identity]
//	server -> client  [version 12 bytes, optional][CommConnect]
//
// The identity is the hex public key of the dialing node. The server resolves
// it through the PeerSet and refuses unknown peers. The version check is
// enabled on both sides or on neither.
//
// After the handshake, every session on a connection is announced by the
// client with a CommSyncStart byte. The server waits for it without a
// deadline, since pooled connections may stay idle between sessions, and then
// hands the connection to its Handler.
package net
