package netlib

import (
	"fmt"

	"github.com/pkg/errors"
)

// Message is anything that can be sent as one frame.
type Message interface {
	// Length returns the length of the message body.
	Length() int
	// Body returns the raw message data.
	Body() []byte
}

// RequestType identifies what a client asks of the server.
type RequestType uint8

const (
	RequestConnect RequestType = iota
	RequestSendData
	RequestIsAlive
	RequestDisconnect
)

func (t RequestType) String() string {
	switch t {
	case RequestConnect:
		return "connect"
	case RequestSendData:
		return "send-data"
	case RequestIsAlive:
		return "is-alive"
	case RequestDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("RequestType(%d)", uint8(t))
	}
}

// ResponseType identifies what the server answers.
type ResponseType uint8

const (
	ResponseConnect ResponseType = iota
	ResponseDisconnect
	ResponseIsAlive
	ResponseSend
)

func (t ResponseType) String() string {
	switch t {
	case ResponseConnect:
		return "connect"
	case ResponseDisconnect:
		return "disconnect"
	case ResponseIsAlive:
		return "is-alive"
	case ResponseSend:
		return "send"
	default:
		return fmt.Sprintf("ResponseType(%d)", uint8(t))
	}
}

// Request is a typed client envelope. On the wire it is one type byte followed by Data.
type Request struct {
	Type RequestType
	Data []byte
}

func (r Request) Length() int { return 1 + len(r.Data) }

func (r Request) Body() []byte { return append([]byte{byte(r.Type)}, r.Data...) }

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Request) MarshalBinary() ([]byte, error) {
	if r.Type > RequestDisconnect {
		return nil, errors.Wrapf(ErrInvalidMessage, "unknown request type %d", r.Type)
	}
	return r.Body(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Data is copied.
func (r *Request) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return errors.Wrap(ErrInvalidMessage, "empty request")
	}
	if t := RequestType(b[0]); t > RequestDisconnect {
		return errors.Wrapf(ErrInvalidMessage, "unknown request type %d", t)
	}
	r.Type = RequestType(b[0])
	r.Data = append([]byte(nil), b[1:]...)
	return nil
}

// Response is a typed server envelope. On the wire it is one type byte followed by Data.
type Response struct {
	Type ResponseType
	Data []byte
}

func (r Response) Length() int { return 1 + len(r.Data) }

func (r Response) Body() []byte { return append([]byte{byte(r.Type)}, r.Data...) }

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Response) MarshalBinary() ([]byte, error) {
	if r.Type > ResponseSend {
		return nil, errors.Wrapf(ErrInvalidMessage, "unknown response type %d", r.Type)
	}
	return r.Body(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Data is copied.
func (r *Response) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return errors.Wrap(ErrInvalidMessage, "empty response")
	}
	if t := ResponseType(b[0]); t > ResponseSend {
		return errors.Wrapf(ErrInvalidMessage, "unknown response type %d", t)
	}
	r.Type = ResponseType(b[0])
	r.Data = append([]byte(nil), b[1:]...)
	return nil
}
