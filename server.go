package netlib

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Server accepts inbound connections, keeps them in a registry in acceptance order
// and re-publishes their traffic as ClientConnected, ClientRequestReceived and
// ClientDisconnected events. The channel returned by Events must be drained while
// the server is running.
type Server struct {
	addr     string
	opts     options
	logger   Logger
	metrics  *metrics
	dispatch dispatcher
	registry registry

	mu         sync.Mutex
	listener   net.Listener
	running    bool
	quit       chan struct{}
	acceptDone chan struct{}
}

// NewServer creates a server that will listen on addr ("host:port"; port 0 picks a free port).
// Nothing is bound until Start is called.
func NewServer(addr string, opt ...Option) *Server {
	opts := newOptions(opt...)
	return &Server{
		addr:     addr,
		opts:     opts,
		logger:   newSafeLogger(opts.logger),
		metrics:  newMetrics(opts.registry),
		dispatch: newDispatcher(opts.eventBuffer),
	}
}

// Events returns the channel on which the server delivers its events.
func (s *Server) Events() <-chan Event {
	return s.dispatch.events
}

// Addr returns the bound address while running, and nil otherwise.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

// Active reports whether the server is accepting connections.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Connections returns the registered connections in acceptance order.
func (s *Server) Connections() []*Connection {
	return s.registry.snapshot()
}

// Start binds the listening socket and starts accepting connections.
// Starting a running server returns ErrInvalidState.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.Wrap(ErrInvalidState, "server is already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}

	s.listener = ln
	s.running = true
	s.quit = make(chan struct{})
	s.acceptDone = make(chan struct{})

	s.logger.Info("server started", "addr", ln.Addr())
	go s.acceptLoop(ln, s.quit, s.acceptDone)
	return nil
}

// Stop closes the listener, waits for the accept loop to exit, then closes every
// registered connection and waits for its receive loop. Stopping a server that is
// not running returns ErrInvalidState.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.Wrap(ErrInvalidState, "server has already been stopped")
	}
	s.running = false
	ln, acceptDone := s.listener, s.acceptDone
	close(s.quit)
	s.mu.Unlock()

	err := ln.Close()
	<-acceptDone

	if cerr := s.closeConnections(); err == nil {
		err = cerr
	}

	s.logger.Info("server stopped", "addr", ln.Addr())
	return err
}

// SendToClient broadcasts payload to every active registered connection and returns
// how many deliveries succeeded. A failing recipient is logged and closed (raising
// its own ClientDisconnected) without affecting delivery to the others.
func (s *Server) SendToClient(payload []byte) int {
	var delivered atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(s.opts.broadcastConcurrency)

	for _, conn := range s.registry.snapshot() {
		if !conn.Active() {
			continue
		}

		g.Go(func() error {
			if err := conn.Send(payload); err != nil {
				s.logger.Warn("broadcast delivery failed", "conn_id", conn.ID(), "addr", conn.RemoteAddr(), "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	return int(delivered.Load())
}

// SendMessage broadcasts the body of m; see SendToClient.
func (s *Server) SendMessage(m Message) int {
	return s.SendToClient(m.Body())
}

func (s *Server) acceptLoop(ln net.Listener, quit chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			s.logger.Error("accept error", "addr", ln.Addr(), "error", err)
			s.dispatch.emit(ConnectionLost{Reason: ReasonListenerFailed, Err: &TransportError{Op: "accept", Err: err}}, quit)
			s.abandon(ln, quit)
			return
		}

		s.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		s.accept(raw, quit)
	}
}

// abandon tears the server down after the listener failed on its own.
func (s *Server) abandon(ln net.Listener, quit chan struct{}) {
	s.mu.Lock()
	owned := s.running && s.listener == ln
	if owned {
		s.running = false
		close(quit)
	}
	s.mu.Unlock()

	if !owned {
		return
	}

	_ = ln.Close()
	if err := s.closeConnections(); err != nil {
		s.logger.Warn("closing connections after listener failure", "error", err)
	}
}

func (s *Server) accept(raw net.Conn, quit chan struct{}) {
	conn := newConnection(raw, sideServer, s.opts, s.metrics, connHandler{
		onData: func(c *Connection, data []byte) {
			s.dispatch.emit(ClientRequestReceived{Conn: c, Data: data}, quit)
		},
		onLost: func(c *Connection, reason string, err error) {
			s.registry.remove(c)
			s.logger.Info("client disconnected", "conn_id", c.ID(), "addr", c.RemoteAddr(), "reason", reason)
			s.dispatch.emit(ClientDisconnected{Conn: c, Reason: reason, Err: err}, quit)
		},
	})

	if err := conn.activate(); err != nil {
		s.logger.Error("activate connection", "error", err)
		_ = raw.Close()
		return
	}

	s.registry.add(conn)
	s.logger.Info("client connected", "conn_id", conn.ID(), "addr", conn.RemoteAddr(), "clients", s.registry.len())
	s.dispatch.emit(ClientConnected{Conn: conn}, quit)

	go conn.readLoop()
}

// closeConnections closes every registered connection concurrently and waits
// for their receive loops to finish.
func (s *Server) closeConnections() error {
	var g errgroup.Group

	for _, conn := range s.registry.snapshot() {
		g.Go(func() error {
			err := conn.Close()
			<-conn.Done()
			if errors.Is(err, ErrInvalidState) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
