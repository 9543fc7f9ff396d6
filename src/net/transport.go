package net

import (
	"errors"
	"io"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// Handler runs one session on an inbound connection. Returning an error closes
// the connection, returning nil keeps it open for the next session.
type Handler func(conn *Conn) error

// Transport dials peers, keeps a pool of idle connections per target, and
// serves inbound connections.
type Transport struct {
	logger *logrus.Entry

	connPool     map[string][]*Conn
	connPoolLock sync.Mutex
	maxPool      int

	inbound     map[*Conn]struct{}
	inboundLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream    StreamLayer
	handshake HandshakeConfig
	timeout   time.Duration
}

// NewTransport creates a transport over the given stream layer. maxPool is
// the number of idle connections kept per target, and timeout the deadline
// applied to every read and write once the handshake is done.
func NewTransport(
	stream StreamLayer,
	handshake HandshakeConfig,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *Transport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Transport{
		connPool:   make(map[string][]*Conn),
		inbound:    make(map[*Conn]struct{}),
		logger:     logger,
		maxPool:    maxPool,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		handshake:  handshake,
		timeout:    timeout,
	}
}

// NewTCPTransport returns a Transport that is built on top of a TCP stream
// layer.
func NewTCPTransport(
	bindAddr string,
	advertise string,
	handshake HandshakeConfig,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) (*Transport, error) {
	stream, err := NewTCPStreamLayer(bindAddr, advertise)
	if err != nil {
		return nil, err
	}
	return NewTransport(stream, handshake, maxPool, timeout, logger), nil
}

// Close stops the transport. Pooled and inbound connections are closed.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if t.shutdown {
		return nil
	}
	t.shutdown = true
	close(t.shutdownCh)
	err := t.stream.Close()

	t.connPoolLock.Lock()
	for target, conns := range t.connPool {
		for _, c := range conns {
			c.Close()
		}
		delete(t.connPool, target)
	}
	t.connPoolLock.Unlock()

	t.inboundLock.Lock()
	for c := range t.inbound {
		c.Close()
	}
	t.inboundLock.Unlock()

	return err
}

// IsShutdown is used to check if the transport is shutdown.
func (t *Transport) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// LocalAddr returns the address the transport listens on.
func (t *Transport) LocalAddr() string {
	addr := t.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr returns the address other peers should dial.
func (t *Transport) AdvertiseAddr() string {
	return t.stream.AdvertiseAddr()
}

// getPooledConn is used to grab a pooled connection.
func (t *Transport) getPooledConn(target string) *Conn {
	t.connPoolLock.Lock()
	defer t.connPoolLock.Unlock()

	conns, ok := t.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *Conn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	t.connPool[target] = conns[:num-1]
	return conn
}

// Connect returns a handshaked connection to the peer, announcing a new
// session on it. The caller must hand it back with Release.
func (t *Transport) Connect(target string, peerID uint32) (*Conn, error) {
	if t.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn := t.getPooledConn(target)

	if conn == nil {
		raw, err := t.stream.Dial(target, t.handshake.Timeout)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "dialing %s", target)
		}

		conn = NewConn(raw, target, t.timeout)
		if err := ClientHandshake(conn, t.handshake, peerID); err != nil {
			conn.Close()
			return nil, pkgerrors.Wrapf(err, "handshake with %s", target)
		}
	}

	if _, err := conn.Write([]byte{CommSyncStart}); err != nil {
		conn.Close()
		return nil, pkgerrors.Wrap(err, "starting session")
	}

	return conn, nil
}

// Release returns a connection to the pool after a session. Connections of
// failed sessions are closed, since their stream position is unknown.
func (t *Transport) Release(conn *Conn, healthy bool) {
	if !healthy {
		conn.Close()
		return
	}

	t.connPoolLock.Lock()
	defer t.connPoolLock.Unlock()

	conns := t.connPool[conn.target]

	if !t.IsShutdown() && len(conns) < t.maxPool {
		t.connPool[conn.target] = append(conns, conn)
	} else {
		conn.Close()
	}
}

// Listen accepts inbound connections until the transport is closed. Each
// connection is handshaked and then serves sessions with handler.
func (t *Transport) Listen(handler Handler) {
	for {
		// Accept incoming connections
		raw, err := t.stream.Accept()
		if err != nil {
			if t.IsShutdown() {
				return
			}
			t.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		t.logger.WithFields(logrus.Fields{
			"node": raw.LocalAddr(),
			"from": raw.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go t.handleConn(NewConn(raw, raw.RemoteAddr().String(), t.timeout), handler)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (t *Transport) handleConn(conn *Conn, handler Handler) {
	defer conn.Close()

	if err := ServerHandshake(conn, t.handshake); err != nil {
		t.logger.WithFields(logrus.Fields{
			"from":  conn.Target(),
			"error": err,
		}).Warn("Handshake failed")
		return
	}

	t.inboundLock.Lock()
	if t.IsShutdown() {
		t.inboundLock.Unlock()
		return
	}
	t.inbound[conn] = struct{}{}
	t.inboundLock.Unlock()

	defer func() {
		t.inboundLock.Lock()
		delete(t.inbound, conn)
		t.inboundLock.Unlock()
	}()

	for {
		b, err := conn.ReadByteIdle()
		if err != nil {
			if err != io.EOF && !t.IsShutdown() {
				t.logger.WithField("error", err).Debug("Inbound connection closed")
			}
			return
		}

		if b != CommSyncStart {
			t.logger.WithField("byte", b).Error("Unexpected session marker")
			return
		}

		if err := handler(conn); err != nil {
			t.logger.WithFields(logrus.Fields{
				"from":  conn.OtherID(),
				"error": err,
			}).Debug("Inbound session failed")
			return
		}
	}
}
