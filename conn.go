// Package netlib provides a small bidirectional TCP messaging library.
// A Client connects to a Server and both sides exchange arbitrary binary payloads
// framed with a 4-byte little-endian length prefix. Incoming data, new and lost
// connections are reported as Events on a channel owned by the Client or Server.
package netlib

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type connState int32

const (
	stateIdle connState = iota
	stateActive
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int32(s))
	}
}

var connSeq atomic.Uint64

// connHandler receives what the receive loop produces. Both callbacks run on the
// receive loop goroutine; onLost runs exactly once, after the connection is closed.
type connHandler struct {
	onData func(c *Connection, data []byte)
	onLost func(c *Connection, reason string, err error)
}

// Connection is one live socket shared by Client (outbound) and Server (inbound).
// It runs a single receive loop for its whole active lifetime and sends synchronously.
// A closed Connection is never reused.
type Connection struct {
	id      uint64
	side    string
	rawConn net.Conn
	reader  *bufio.Reader
	remote  net.Addr
	logger  Logger
	metrics *metrics
	opts    options
	handler connHandler

	mu     sync.Mutex // serializes the transition to closed
	state  atomic.Int32
	reason string
	cause  error
	done   chan struct{}
}

func newConnection(raw net.Conn, side string, opts options, m *metrics, h connHandler) *Connection {
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return &Connection{
		id:      connSeq.Add(1),
		side:    side,
		rawConn: raw,
		reader:  bufio.NewReader(raw),
		remote:  raw.RemoteAddr(),
		logger:  newSafeLogger(opts.logger),
		metrics: m,
		opts:    opts,
		handler: h,
		done:    make(chan struct{}),
	}
}

// ID returns a process-unique identifier for the connection.
func (c *Connection) ID() uint64 {
	return c.id
}

// RemoteAddr returns the address of the peer.
func (c *Connection) RemoteAddr() net.Addr {
	return c.remote
}

// RemoteHost returns the IP address of the peer, or the whole address string for non-TCP peers.
func (c *Connection) RemoteHost() string {
	if addr, ok := c.remote.(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return c.remote.String()
}

// RemotePort returns the port of the peer, or 0 for non-TCP peers.
func (c *Connection) RemotePort() int {
	if addr, ok := c.remote.(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Active reports whether the connection can still send and receive.
func (c *Connection) Active() bool {
	return connState(c.state.Load()) == stateActive
}

// Done returns a channel that is closed once the receive loop has exited
// and the loss notification has been handed to the owner.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) String() string {
	return fmt.Sprintf("conn#%d(%s, %s)", c.id, c.remote, connState(c.state.Load()))
}

// Send encodes payload into a frame and writes it, blocking until the write completes.
//
// A write failure closes the connection and the owner is notified through its
// loss event; the failure is also returned as a *TransportError. Sending on a
// connection that is not active returns ErrConnectionClosed. A payload larger
// than the maximum frame size returns ErrFrameTooLarge and leaves the connection open.
func (c *Connection) Send(payload []byte) error {
	if !c.Active() {
		return ErrConnectionClosed
	}

	if uint64(len(payload)) > uint64(c.opts.maxFrameSize) {
		return errors.Wrapf(ErrFrameTooLarge, "payload of %d bytes exceeds %d", len(payload), c.opts.maxFrameSize)
	}

	if c.opts.writeTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}

	// net.Conn serializes concurrent Writes, and a frame is always one Write.
	if err := WriteFrame(c.rawConn, payload); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.logger.Debug("write error", "conn_id", c.id, "addr", c.remote, "error", err)
		c.shutdown(lossReason(terr), terr)
		return terr
	}

	c.metrics.frameSent(c.side, len(payload))
	return nil
}

// SendMessage sends the body of m as one frame.
func (c *Connection) SendMessage(m Message) error {
	return c.Send(m.Body())
}

// Close closes the socket. The receive loop then stops and the owner is notified
// with ReasonClosedLocally. Closing a connection that is not active returns ErrInvalidState.
func (c *Connection) Close() error {
	if !c.shutdown(ReasonClosedLocally, ErrConnectionClosed) {
		return errors.Wrapf(ErrInvalidState, "close %s", c)
	}
	return nil
}

// activate moves an idle connection to active. The caller starts readLoop afterwards.
func (c *Connection) activate() error {
	if !c.state.CompareAndSwap(int32(stateIdle), int32(stateActive)) {
		return errors.Wrapf(ErrInvalidState, "activate %s", c)
	}
	c.metrics.connOpened(c.side)
	c.logger.Info("connection established", "conn_id", c.id, "side", c.side, "addr", c.remote)
	return nil
}

// start activates the connection and spawns its receive loop.
func (c *Connection) start() error {
	if err := c.activate(); err != nil {
		return err
	}
	go c.readLoop()
	return nil
}

// shutdown performs the active to closed transition. Only the first caller wins:
// it records why the connection ended and closes the socket, which unblocks the
// receive loop if it is waiting on a read.
func (c *Connection) shutdown(reason string, cause error) bool {
	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(stateActive), int32(stateClosed)) {
		c.mu.Unlock()
		return false
	}
	c.reason, c.cause = reason, cause
	c.mu.Unlock()

	if err := c.rawConn.Close(); err != nil {
		c.logger.Debug("socket close error", "conn_id", c.id, "error", err)
	}
	return true
}

func (c *Connection) lossCause() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.cause
}

// readLoop decodes frames until a read fails or the connection is closed,
// then reports the loss exactly once.
func (c *Connection) readLoop() {
	defer close(c.done)

	for {
		if c.opts.readTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.readTimeout))
		}

		data, err := ReadFrame(c.reader, c.opts.maxFrameSize)
		if err != nil {
			c.logger.Debug("read error", "conn_id", c.id, "addr", c.remote, "error", err)
			c.shutdown(lossReason(err), err)
			break
		}

		// A frame that was already buffered when Close ran is not delivered.
		if !c.Active() {
			break
		}

		c.metrics.frameReceived(c.side, len(data))
		if c.handler.onData != nil {
			c.handler.onData(c, data)
		}
	}

	reason, cause := c.lossCause()
	c.metrics.connLost(c.side)
	c.logger.Info("connection lost", "conn_id", c.id, "side", c.side, "addr", c.remote, "reason", reason)

	if c.handler.onLost != nil {
		c.handler.onLost(c, reason, cause)
	}
}
