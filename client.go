package netlib

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Client maintains one outbound Connection to a Server.
// DataReceived and ConnectionLost events are delivered on the channel returned by Events,
// which must be drained while the client is running.
type Client struct {
	addr     string
	opts     options
	logger   Logger
	metrics  *metrics
	dispatch dispatcher

	mu   sync.Mutex
	conn *Connection
	quit chan struct{}
}

// NewClient creates a client for the server at addr ("host:port").
// No connection is made until Start is called.
func NewClient(addr string, opt ...Option) *Client {
	opts := newOptions(opt...)
	return &Client{
		addr:     addr,
		opts:     opts,
		logger:   newSafeLogger(opts.logger),
		metrics:  newMetrics(opts.registry),
		dispatch: newDispatcher(opts.eventBuffer),
	}
}

// Events returns the channel on which the client delivers DataReceived and ConnectionLost.
func (c *Client) Events() <-chan Event {
	return c.dispatch.events
}

// Addr returns the server address the client connects to.
func (c *Client) Addr() string {
	return c.addr
}

// Active reports whether the client holds an active connection.
func (c *Client) Active() bool {
	conn := c.Connection()
	return conn != nil && conn.Active()
}

// Connection returns the current connection, or nil if the client was never started.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Start connects to the server and starts the receive loop.
// The context bounds the connection attempt only.
//
// Starting an active client returns ErrInvalidState. If the connection attempt
// fails the client stays inactive and the failure is reported twice: returned as a
// *TransportError and delivered as a ConnectionLost event with a nil Conn whose Err
// is that same error. Both describe one failure; handle either, not both.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.Active() {
		return errors.Wrap(ErrInvalidState, "client has already been started")
	}

	dialer := net.Dialer{Timeout: c.opts.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		c.logger.Warn("connect failed", "addr", c.addr, "error", err)
		c.dispatch.emit(ConnectionLost{Reason: "connect failed: " + err.Error(), Err: terr}, closedCh)
		return terr
	}

	quit := make(chan struct{})
	conn := newConnection(raw, sideClient, c.opts, c.metrics, connHandler{
		onData: func(conn *Connection, data []byte) {
			c.dispatch.emit(DataReceived{Conn: conn, Data: data}, quit)
		},
		onLost: func(conn *Connection, reason string, err error) {
			c.dispatch.emit(ConnectionLost{Conn: conn, Reason: reason, Err: err}, quit)
		},
	})

	if err = conn.start(); err != nil {
		_ = raw.Close()
		return err
	}

	c.conn, c.quit = conn, quit
	c.logger.Info("client started", "conn_id", conn.ID(), "addr", c.addr)
	return nil
}

// Stop closes the connection. Stopping a client that is not active returns ErrInvalidState.
// The final ConnectionLost is delivered only if the event channel has room for it.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.Active() {
		return errors.Wrap(ErrInvalidState, "client has already been stopped")
	}

	close(c.quit)
	if err := c.conn.Close(); err != nil {
		return err
	}

	c.logger.Info("client stopped", "conn_id", c.conn.ID(), "addr", c.addr)
	return nil
}

// SendToServer sends payload as one frame. Transport failures close the connection
// and are reported through ConnectionLost; see Connection.Send for the returned errors.
// Sending before the first Start returns ErrInvalidState.
func (c *Client) SendToServer(payload []byte) error {
	conn := c.Connection()
	if conn == nil {
		return errors.Wrap(ErrInvalidState, "client has not been started")
	}
	return conn.Send(payload)
}

// SendMessage sends the body of m to the server as one frame.
func (c *Client) SendMessage(m Message) error {
	return c.SendToServer(m.Body())
}
