package netlib

// Event is a notification delivered on the channel returned by Client.Events or Server.Events.
// The set of implementations is closed: DataReceived, ConnectionLost, ClientConnected,
// ClientDisconnected and ClientRequestReceived.
type Event interface {
	event()
}

// DataReceived is delivered by a Client for every complete frame read from the server.
type DataReceived struct {
	Conn *Connection
	Data []byte
}

// ConnectionLost is delivered by a Client when its connection closes or fails to connect,
// and by a Server when its listener fails. Conn is nil when no connection was established.
type ConnectionLost struct {
	Conn   *Connection
	Reason string
	Err    error
}

// ClientConnected is delivered by a Server for every accepted connection.
type ClientConnected struct {
	Conn *Connection
}

// ClientDisconnected is delivered by a Server once an accepted connection has closed
// and has been removed from the server's registry.
type ClientDisconnected struct {
	Conn   *Connection
	Reason string
	Err    error
}

// ClientRequestReceived is delivered by a Server for every complete frame read from a client.
type ClientRequestReceived struct {
	Conn *Connection
	Data []byte
}

func (DataReceived) event()          {}
func (ConnectionLost) event()        {}
func (ClientConnected) event()       {}
func (ClientDisconnected) event()    {}
func (ClientRequestReceived) event() {}

// closedCh is never open; emitting with it as the quit channel never blocks.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type dispatcher struct {
	events chan Event
}

func newDispatcher(size int) dispatcher {
	return dispatcher{events: make(chan Event, size)}
}

// emit delivers ev, blocking while quit is open. Once quit is closed, ev is
// delivered only if the channel has room and dropped otherwise.
func (d dispatcher) emit(ev Event, quit <-chan struct{}) bool {
	select {
	case d.events <- ev:
		return true
	default:
	}

	select {
	case d.events <- ev:
		return true
	case <-quit:
		return false
	}
}
