package net

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/mosaicnetworks/hashgossip/src/version"
)

const (
	// CommConnect acknowledges a successful handshake.
	CommConnect byte = 0x6c
	// CommSyncStart announces a new session on an established connection.
	CommSyncStart byte = 0x5e

	maxIdentityLength = 1024
)

var (
	// ErrVersionMismatch is returned when the peers run different software
	// versions and the check is enabled.
	ErrVersionMismatch = errors.New("software version mismatch")
	// ErrUnknownPeer is returned by the server when the identity is not in
	// the address book.
	ErrUnknownPeer = errors.New("unknown peer")
)

// HandshakeConfig describes the local side of a handshake.
type HandshakeConfig struct {
	Version      version.SoftwareVersion
	CheckVersion bool
	// Identity is the local hex public key.
	Identity string
	// Peers resolves the identity of inbound connections.
	Peers   *peers.PeerSet
	Timeout time.Duration
}

// ClientHandshake runs the dialing side of the handshake. peerID is the id of
// the peer that was dialed.
func ClientHandshake(c *Conn, conf HandshakeConfig, peerID uint32) error {
	return c.withTimeout(conf.Timeout, func() error {
		if conf.CheckVersion {
			if err := writeVersion(c, conf.Version); err != nil {
				return err
			}
		}

		if err := writeIdentity(c, conf.Identity); err != nil {
			return err
		}

		if err := c.Flush(); err != nil {
			return errors.Wrap(err, "flushing handshake")
		}

		if conf.CheckVersion {
			if err := checkVersion(c, conf.Version); err != nil {
				return err
			}
		}

		ack, err := c.ReadByte()
		if err != nil {
			return errors.Wrap(err, "reading handshake ack")
		}
		if ack != CommConnect {
			return errors.Errorf("unexpected handshake ack 0x%x", ack)
		}

		c.otherID = peerID
		return nil
	})
}

// ServerHandshake runs the accepting side of the handshake and records the id
// of the remote peer in the Conn.
func ServerHandshake(c *Conn, conf HandshakeConfig) error {
	return c.withTimeout(conf.Timeout, func() error {
		if conf.CheckVersion {
			if err := checkVersion(c, conf.Version); err != nil {
				return err
			}
		}

		identity, err := readIdentity(c)
		if err != nil {
			return err
		}

		id, ok := conf.Peers.NodeID(identity)
		if !ok {
			return errors.Wrapf(ErrUnknownPeer, "identity %s", identity)
		}

		if conf.CheckVersion {
			if err := writeVersion(c, conf.Version); err != nil {
				return err
			}
		}

		if _, err := c.Write([]byte{CommConnect}); err != nil {
			return errors.Wrap(err, "writing handshake ack")
		}

		if err := c.Flush(); err != nil {
			return errors.Wrap(err, "flushing handshake")
		}

		c.otherID = id
		return nil
	})
}

func writeVersion(w io.Writer, v version.SoftwareVersion) error {
	b, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return errors.Wrap(err, "writing version")
	}
	return nil
}

func checkVersion(r io.Reader, mine version.SoftwareVersion) error {
	b := make([]byte, version.SoftwareVersionSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return errors.Wrap(err, "reading version")
	}

	var theirs version.SoftwareVersion
	if err := theirs.UnmarshalBinary(b); err != nil {
		return errors.Wrap(err, "decoding version")
	}

	if theirs.Compare(mine) != 0 {
		return errors.Wrapf(ErrVersionMismatch, "local %s, remote %s", mine, theirs)
	}
	return nil
}

func writeIdentity(w io.Writer, identity string) error {
	b := make([]byte, 2+len(identity))
	binary.BigEndian.PutUint16(b, uint16(len(identity)))
	copy(b[2:], identity)
	if _, err := w.Write(b); err != nil {
		return errors.Wrap(err, "writing identity")
	}
	return nil
}

func readIdentity(r io.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", errors.Wrap(err, "reading identity length")
	}

	n := binary.BigEndian.Uint16(l[:])
	if n == 0 || n > maxIdentityLength {
		return "", errors.Errorf("invalid identity length %d", n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Wrap(err, "reading identity")
	}
	return string(b), nil
}
