package netlib

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default configuration values.
const (
	// defaultMaxFrameSize is the default maximum payload size of a single frame (16MB).
	defaultMaxFrameSize = 16 * 1024 * 1024
	// defaultEventBuffer is the default capacity of the event channel.
	defaultEventBuffer = 64
	// defaultBroadcastConcurrency bounds the number of concurrent writes per broadcast.
	defaultBroadcastConcurrency = 8
	// defaultDialTimeout bounds how long Client.Start waits for the TCP handshake.
	defaultDialTimeout = 10 * time.Second
	// defaultWriteTimeout bounds a single send, so a peer that stops reading
	// fails its write instead of holding a broadcast slot forever.
	defaultWriteTimeout = 10 * time.Second
)

// options holds the configuration shared by Client, Server and their connections.
type options struct {
	logger   Logger
	registry prometheus.Registerer

	maxFrameSize         uint32
	eventBuffer          int
	broadcastConcurrency int

	readTimeout  time.Duration // idle read timeout, 0 disables it
	writeTimeout time.Duration // per-send write deadline, 0 disables it after checkOptions
	dialTimeout  time.Duration
}

// Option is a function that configures a Client or Server.
type Option func(*options)

func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions replaces missing or invalid values with defaults.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.maxFrameSize == 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.eventBuffer <= 0 {
		opts.eventBuffer = defaultEventBuffer
	}

	if opts.broadcastConcurrency <= 0 {
		opts.broadcastConcurrency = defaultBroadcastConcurrency
	}

	if opts.readTimeout < 0 {
		opts.readTimeout = 0
	}

	switch {
	case opts.writeTimeout == 0:
		opts.writeTimeout = defaultWriteTimeout
	case opts.writeTimeout < 0:
		opts.writeTimeout = 0
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, log output is discarded.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MaxFrameSizeOption returns an Option that sets the maximum payload size of a frame.
// Incoming frames announcing a larger payload close the connection; outgoing payloads
// above the limit are rejected. Values above math.MaxUint32 are clamped.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		switch {
		case size <= 0:
			o.maxFrameSize = 0
		case uint64(size) > math.MaxUint32:
			o.maxFrameSize = math.MaxUint32
		default:
			o.maxFrameSize = uint32(size)
		}
	}
}

// EventBufferOption returns an Option that sets the capacity of the event channel.
func EventBufferOption(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// BroadcastConcurrencyOption returns an Option that limits how many connections
// Server.SendToClient writes to at the same time.
func BroadcastConcurrencyOption(n int) Option {
	return func(o *options) {
		o.broadcastConcurrency = n
	}
}

// ReadTimeoutOption returns an Option that closes a connection when no frame
// arrives within the given duration. Zero (the default) waits forever.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that sets the write deadline applied to each send.
// Zero keeps the default of 10s; a negative value waits forever.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// DialTimeoutOption returns an Option that bounds how long Client.Start waits to connect.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// MetricsOption returns an Option that exports frame and connection counters
// to the given Prometheus registerer. Collectors already registered by another
// Client or Server on the same registerer are shared.
func MetricsOption(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}
