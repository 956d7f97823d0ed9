package netlib

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the little-endian length prefix in front of every payload.
const HeaderSize = 4

// payloadChunk caps how much memory is reserved up front for a payload whose
// length has only been announced by the peer.
const payloadChunk = 64 * 1024

// Encode returns the frame for payload: a 4-byte little-endian length followed by the payload.
// It panics if the payload length does not fit in the header.
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// AppendFrame appends the frame for payload to dst and returns the extended slice.
func AppendFrame(dst, payload []byte) []byte {
	if uint64(len(payload)) > math.MaxUint32 {
		panic("netlib: payload length exceeds frame header capacity")
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame encodes payload and writes it to w with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// DecodeFrame reads one complete frame from r and returns its payload.
// It blocks until the whole payload has arrived, the stream ends, or a read fails.
func DecodeFrame(r io.Reader) ([]byte, error) {
	return ReadFrame(r, 0)
}

// ReadFrame is like DecodeFrame but rejects frames whose declared length exceeds max
// before reading the payload. A max of 0 disables the check.
//
// A stream that ends (or stops making progress) inside a frame yields a *FramingError;
// any other read failure yields a *TransportError.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if n, err := readFull(r, header[:]); err != nil {
		return nil, frameReadError(reasonIncompleteHeader, HeaderSize, n, err)
	}

	length, err := payloadLength(binary.LittleEndian.Uint32(header[:]), max, math.MaxInt)
	if err != nil {
		return nil, err
	}

	return readPayload(r, length)
}

// payloadLength checks a declared length against max (0 means unbounded) and
// against limit, the largest length an int can hold on this platform.
func payloadLength(length, max uint32, limit uint64) (int, error) {
	if max > 0 && length > max {
		return 0, &FramingError{Reason: reasonFrameTooLarge, Want: int(max), Got: int(length)}
	}
	if uint64(length) > limit {
		// Got is -1: the declared length does not fit in an int.
		return 0, &FramingError{Reason: reasonFrameTooLarge, Want: int(limit), Got: -1}
	}
	return int(length), nil
}

// readPayload reads exactly length bytes, growing the buffer as data arrives
// instead of trusting the announced length for the allocation.
func readPayload(r io.Reader, length int) ([]byte, error) {
	payload := make([]byte, 0, min(length, payloadChunk))
	for len(payload) < length {
		next := min(length-len(payload), payloadChunk)
		start := len(payload)
		payload = append(payload, make([]byte, next)...)

		n, err := readFull(r, payload[start:])
		if err != nil {
			return nil, frameReadError(reasonIncompletePayload, length, start+n, err)
		}
	}
	return payload, nil
}

// readFull reads exactly len(buf) bytes. Unlike io.ReadFull it treats a read that
// returns no data and no error as a failure, so a half-closed peer cannot spin it.
func readFull(r io.Reader, buf []byte) (int, error) {
	var n int
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF && n == len(buf) {
				return n, nil
			}
			return n, err
		}
		if m == 0 {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

func frameReadError(reason string, want, got int, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrNoProgress) {
		return &FramingError{Reason: reason, Want: want, Got: got, Err: err}
	}
	return &TransportError{Op: "read", Err: err}
}
