package netlib

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Errors returned synchronously by Client, Server and Connection operations.
var (
	// ErrInvalidState is returned when an operation is invoked in a state that forbids it,
	// such as starting a running server or closing a connection twice.
	ErrInvalidState = errors.New("invalid state")
	// ErrConnectionClosed is returned when sending on a connection that is no longer active.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrFrameTooLarge is returned when a payload exceeds the configured maximum frame size.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrInvalidMessage is returned when an envelope cannot be marshaled or unmarshaled.
	ErrInvalidMessage = errors.New("invalid message")
)

// Reasons attached to ConnectionLost and ClientDisconnected events.
const (
	ReasonClosedLocally  = "connection closed locally"
	ReasonClosedByPeer   = "connection closed by remote endpoint"
	ReasonListenerFailed = "listener failed"
)

const (
	reasonIncompleteHeader  = "incomplete header"
	reasonIncompletePayload = "incomplete payload"
	reasonFrameTooLarge     = "frame too large"
)

// FramingError reports a malformed or truncated frame.
type FramingError struct {
	Reason string
	Want   int // bytes expected (or the limit, for oversized frames)
	Got    int // bytes read (or the declared length, for oversized frames)
	Err    error
}

func (e *FramingError) Error() string {
	msg := fmt.Sprintf("framing: %s (want %d, got %d)", e.Reason, e.Want, e.Got)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FramingError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure on the underlying socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// lossReason maps a receive or send failure onto the reason string carried by loss events.
func lossReason(err error) string {
	var fe *FramingError
	switch {
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ReasonClosedLocally
	case errors.As(err, &fe):
		if fe.Reason == reasonIncompleteHeader && fe.Got == 0 && errors.Is(fe.Err, io.EOF) {
			return ReasonClosedByPeer
		}
		return "framing error: " + fe.Reason
	default:
		return "i/o error: " + err.Error()
	}
}
