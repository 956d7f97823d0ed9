package netlib

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewOptions_Defaults(t *testing.T) {
	opts := newOptions()

	if opts.logger == nil {
		t.Error("logger should have a default value")
	}
	if opts.maxFrameSize != defaultMaxFrameSize {
		t.Errorf("maxFrameSize = %d, want %d", opts.maxFrameSize, defaultMaxFrameSize)
	}
	if opts.eventBuffer != defaultEventBuffer {
		t.Errorf("eventBuffer = %d, want %d", opts.eventBuffer, defaultEventBuffer)
	}
	if opts.broadcastConcurrency != defaultBroadcastConcurrency {
		t.Errorf("broadcastConcurrency = %d, want %d", opts.broadcastConcurrency, defaultBroadcastConcurrency)
	}
	if opts.dialTimeout != defaultDialTimeout {
		t.Errorf("dialTimeout = %v, want %v", opts.dialTimeout, defaultDialTimeout)
	}
	if opts.readTimeout != 0 {
		t.Errorf("read timeout should be disabled by default, got %v", opts.readTimeout)
	}
	if opts.writeTimeout != defaultWriteTimeout {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, defaultWriteTimeout)
	}
	if opts.registry != nil {
		t.Error("metrics should be disabled by default")
	}
}

func TestNewOptions_AllOptions(t *testing.T) {
	logger := &mockLogger{}
	reg := prometheus.NewRegistry()

	opts := newOptions(
		LoggerOption(logger),
		MaxFrameSizeOption(2048),
		EventBufferOption(10),
		BroadcastConcurrencyOption(3),
		ReadTimeoutOption(time.Minute),
		WriteTimeoutOption(time.Second),
		DialTimeoutOption(2*time.Second),
		MetricsOption(reg),
	)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
	if opts.maxFrameSize != 2048 {
		t.Errorf("maxFrameSize = %d, want 2048", opts.maxFrameSize)
	}
	if opts.eventBuffer != 10 {
		t.Errorf("eventBuffer = %d, want 10", opts.eventBuffer)
	}
	if opts.broadcastConcurrency != 3 {
		t.Errorf("broadcastConcurrency = %d, want 3", opts.broadcastConcurrency)
	}
	if opts.readTimeout != time.Minute {
		t.Errorf("readTimeout = %v, want %v", opts.readTimeout, time.Minute)
	}
	if opts.writeTimeout != time.Second {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, time.Second)
	}
	if opts.dialTimeout != 2*time.Second {
		t.Errorf("dialTimeout = %v, want %v", opts.dialTimeout, 2*time.Second)
	}
	if opts.registry != reg {
		t.Error("registry not set correctly")
	}
}

func TestNewOptions_InvalidValuesFallBack(t *testing.T) {
	opts := newOptions(
		MaxFrameSizeOption(-1),
		EventBufferOption(0),
		BroadcastConcurrencyOption(-5),
		ReadTimeoutOption(-time.Second),
		WriteTimeoutOption(-time.Second),
		DialTimeoutOption(0),
	)

	if opts.maxFrameSize != defaultMaxFrameSize {
		t.Errorf("maxFrameSize = %d, want default", opts.maxFrameSize)
	}
	if opts.eventBuffer != defaultEventBuffer {
		t.Errorf("eventBuffer = %d, want default", opts.eventBuffer)
	}
	if opts.broadcastConcurrency != defaultBroadcastConcurrency {
		t.Errorf("broadcastConcurrency = %d, want default", opts.broadcastConcurrency)
	}
	if opts.readTimeout != 0 || opts.writeTimeout != 0 {
		t.Errorf("negative timeouts should disable, got read=%v write=%v", opts.readTimeout, opts.writeTimeout)
	}
	if opts.dialTimeout != defaultDialTimeout {
		t.Errorf("dialTimeout = %v, want default", opts.dialTimeout)
	}
}

func TestWriteTimeoutOption_ZeroKeepsDefault(t *testing.T) {
	opts := newOptions(WriteTimeoutOption(0))
	if opts.writeTimeout != defaultWriteTimeout {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, defaultWriteTimeout)
	}
}

func TestMaxFrameSizeOption_Clamps(t *testing.T) {
	if math.MaxInt == math.MaxInt32 {
		t.Skip("int cannot exceed the frame header capacity on this platform")
	}

	opts := newOptions(MaxFrameSizeOption(math.MaxInt))
	if opts.maxFrameSize != math.MaxUint32 {
		t.Errorf("maxFrameSize = %d, want %d", opts.maxFrameSize, uint32(math.MaxUint32))
	}
}

func TestOptions_LastWins(t *testing.T) {
	opts := newOptions(EventBufferOption(1), EventBufferOption(2))
	if opts.eventBuffer != 2 {
		t.Errorf("eventBuffer = %d, want 2", opts.eventBuffer)
	}
}
