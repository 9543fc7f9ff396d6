package net

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

func testHandshakeConfigs(t *testing.T, n int) ([]HandshakeConfig, *peers.PeerSet, []*hashgraph.TestNode) {
	nodes, err := hashgraph.NewTestNodes(n)
	if err != nil {
		t.Fatal(err)
	}
	book, err := hashgraph.NewTestPeerSet(nodes)
	if err != nil {
		t.Fatal(err)
	}

	confs := make([]HandshakeConfig, n)
	for i, node := range nodes {
		confs[i] = HandshakeConfig{
			Version:      version.SoftwareVersion{Major: 1, Minor: 2},
			CheckVersion: true,
			Identity:     keys.PublicKeyHex(&node.Key.PublicKey),
			Peers:        book,
			Timeout:      time.Second,
		}
	}
	return confs, book, nodes
}

func runHandshake(client, server HandshakeConfig, peerID uint32) (*Conn, *Conn, error, error) {
	a, b := net.Pipe()
	cc := NewConn(a, "server", time.Second)
	sc := NewConn(b, "client", time.Second)

	serverErr := make(chan error, 1)
	go func() {
		err := ServerHandshake(sc, server)
		if err != nil {
			sc.Close()
		}
		serverErr <- err
	}()

	clientErr := ClientHandshake(cc, client, peerID)
	if clientErr != nil {
		cc.Close()
	}
	return cc, sc, clientErr, <-serverErr
}

func TestHandshake(t *testing.T) {
	confs, _, nodes := testHandshakeConfigs(t, 2)

	cc, sc, cerr, serr := runHandshake(confs[0], confs[1], nodes[1].ID)
	if cerr != nil || serr != nil {
		t.Fatalf("handshake failed: client %v, server %v", cerr, serr)
	}
	defer cc.Close()

	if cc.OtherID() != nodes[1].ID {
		t.Fatalf("client should see node %d, not %d", nodes[1].ID, cc.OtherID())
	}
	if sc.OtherID() != nodes[0].ID {
		t.Fatalf("server should see node %d, not %d", nodes[0].ID, sc.OtherID())
	}
}

func TestHandshakeVersionMismatch(t *testing.T) {
	confs, _, nodes := testHandshakeConfigs(t, 2)
	confs[0].Version = version.SoftwareVersion{Major: 1, Minor: 3}

	_, _, cerr, serr := runHandshake(confs[0], confs[1], nodes[1].ID)
	if errors.Cause(serr) != ErrVersionMismatch {
		t.Fatalf("server should report a version mismatch, got %v", serr)
	}
	if cerr == nil {
		t.Fatal("client handshake should fail")
	}
}

func TestHandshakeWithoutVersionCheck(t *testing.T) {
	confs, _, nodes := testHandshakeConfigs(t, 2)
	confs[0].CheckVersion = false
	confs[1].CheckVersion = false
	confs[0].Version = version.SoftwareVersion{Major: 7}

	_, _, cerr, serr := runHandshake(confs[0], confs[1], nodes[1].ID)
	if cerr != nil || serr != nil {
		t.Fatalf("handshake failed: client %v, server %v", cerr, serr)
	}
}

func TestHandshakeUnknownPeer(t *testing.T) {
	confs, _, nodes := testHandshakeConfigs(t, 2)

	stranger, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	confs[0].Identity = keys.PublicKeyHex(&stranger.PublicKey)

	_, _, cerr, serr := runHandshake(confs[0], confs[1], nodes[1].ID)
	if errors.Cause(serr) != ErrUnknownPeer {
		t.Fatalf("server should refuse the stranger, got %v", serr)
	}
	if cerr == nil {
		t.Fatal("client handshake should fail")
	}
}

func TestTCPTransportSessions(t *testing.T) {
	confs, _, nodes := testHandshakeConfigs(t, 2)
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	server, err := NewTCPTransport("127.0.0.1:0", "", confs[1], 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	// the handler echoes one byte per session
	sessions := make(chan uint32, 10)
	go server.Listen(func(conn *Conn) error {
		b, err := conn.ReadByte()
		if err != nil {
			return err
		}
		if _, err := conn.Write([]byte{b + 1}); err != nil {
			return err
		}
		sessions <- conn.OtherID()
		return conn.Flush()
	})

	client, err := NewTCPTransport("127.0.0.1:0", "", confs[0], 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	for i := byte(0); i < 3; i++ {
		conn, err := client.Connect(server.AdvertiseAddr(), nodes[1].ID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Write([]byte{i}); err != nil {
			t.Fatal(err)
		}
		if err := conn.Flush(); err != nil {
			t.Fatal(err)
		}
		b, err := conn.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if b != i+1 {
			t.Fatalf("expected %d, got %d", i+1, b)
		}
		client.Release(conn, true)

		select {
		case id := <-sessions:
			if id != nodes[0].ID {
				t.Fatalf("server saw node %d, expected %d", id, nodes[0].ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for session")
		}
	}

	// all three sessions ran on one pooled connection
	if n := len(client.connPool[server.AdvertiseAddr()]); n != 1 {
		t.Fatalf("expected 1 pooled connection, got %d", n)
	}

	client.Close()
	if _, err := client.Connect(server.AdvertiseAddr(), nodes[1].ID); err != ErrTransportShutdown {
		t.Fatalf("expected ErrTransportShutdown, got %v", err)
	}
}
