package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zereker/netlib"
)

const defaultAddr = "127.0.0.1:5000"

// config is the demo's runtime configuration.
type config struct {
	Addr         string
	LogLevel     string
	MetricsAddr  string
	MaxFrameSize int
	EventBuffer  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// fileConfig mirrors the TOML file; durations are Go duration strings.
type fileConfig struct {
	Addr         string `toml:"addr"`
	LogLevel     string `toml:"log_level"`
	MetricsAddr  string `toml:"metrics_addr"`
	MaxFrameSize int    `toml:"max_frame_size"`
	EventBuffer  int    `toml:"event_buffer"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	DialTimeout  string `toml:"dial_timeout"`
}

func defaultConfig() config {
	return config{
		Addr:         defaultAddr,
		LogLevel:     "info",
		WriteTimeout: 5 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// loadConfig returns the defaults overlaid with the keys defined in path.
// An empty path yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("max_frame_size") {
		cfg.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("event_buffer") {
		cfg.EventBuffer = raw.EventBuffer
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"dial_timeout", raw.DialTimeout, &cfg.DialTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config missing addr")
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size must not be negative")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// options translates the configuration into library options.
func (c config) options(logger netlib.Logger, reg prometheus.Registerer) []netlib.Option {
	opts := []netlib.Option{
		netlib.LoggerOption(logger),
		netlib.ReadTimeoutOption(c.ReadTimeout),
		netlib.WriteTimeoutOption(c.WriteTimeout),
		netlib.DialTimeoutOption(c.DialTimeout),
	}
	if c.MaxFrameSize > 0 {
		opts = append(opts, netlib.MaxFrameSizeOption(c.MaxFrameSize))
	}
	if c.EventBuffer > 0 {
		opts = append(opts, netlib.EventBufferOption(c.EventBuffer))
	}
	if reg != nil {
		opts = append(opts, netlib.MetricsOption(reg))
	}
	return opts
}
