package net

import (
	"bufio"
	"net"
	"time"
)

const (
	// bufSize is large enough for any single event frame header and most
	// events.
	bufSize = 64 * 1024
)

// Conn is a buffered connection to a known peer. Every read and write gets a
// fresh deadline, so a stalled peer fails the session after one timeout
// instead of blocking it.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	target  string
	otherID uint32
	timeout time.Duration
}

// NewConn wraps a raw connection. A zero timeout disables deadlines.
func NewConn(conn net.Conn, target string, timeout time.Duration) *Conn {
	return &Conn{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, bufSize),
		w:       bufio.NewWriterSize(conn, bufSize),
		target:  target,
		timeout: timeout,
	}
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.r.Read(p)
}

// ReadByte implements io.ByteReader.
func (c *Conn) ReadByte() (byte, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.r.ReadByte()
}

// ReadByteIdle reads one byte without a deadline. It is used to wait for the
// next session on an idle connection.
func (c *Conn) ReadByteIdle() (byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	return c.r.ReadByte()
}

// Write implements io.Writer. Data is buffered until Flush.
func (c *Conn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.w.Write(p)
}

// Flush sends buffered data.
func (c *Conn) Flush() error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.w.Flush()
}

// Close closes the underlying connection. Blocked reads and writes return.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// OtherID is the node id of the remote peer, known after the handshake.
func (c *Conn) OtherID() uint32 {
	return c.otherID
}

// Target is the address the connection was dialed to, or the remote address
// for inbound connections.
func (c *Conn) Target() string {
	return c.target
}

// withTimeout runs f with a different per-operation timeout.
func (c *Conn) withTimeout(timeout time.Duration, f func() error) error {
	prev := c.timeout
	c.timeout = timeout
	defer func() { c.timeout = prev }()
	return f()
}
