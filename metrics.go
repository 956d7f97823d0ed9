package netlib

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sideClient = "client"
	sideServer = "server"
)

// metrics holds the optional Prometheus collectors. A nil *metrics records nothing.
type metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	bytesReceived  *prometheus.CounterVec
	connsLost      *prometheus.CounterVec
	connsActive    *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netlib",
				Name:      name,
				Help:      help,
			},
			[]string{"side"},
		))
	}

	return &metrics{
		framesSent:     counter("frames_sent_total", "Frames written to peers."),
		framesReceived: counter("frames_received_total", "Complete frames read from peers."),
		bytesSent:      counter("bytes_sent_total", "Payload bytes written to peers."),
		bytesReceived:  counter("bytes_received_total", "Payload bytes read from peers."),
		connsLost:      counter("connections_lost_total", "Connections that transitioned to closed."),
		connsActive: register(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "netlib",
				Name:      "connections_active",
				Help:      "Connections currently active.",
			},
			[]string{"side"},
		)),
	}
}

// register registers c, or returns the collector of the same shape that is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) frameSent(side string, n int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(side).Inc()
	m.bytesSent.WithLabelValues(side).Add(float64(n))
}

func (m *metrics) frameReceived(side string, n int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(side).Inc()
	m.bytesReceived.WithLabelValues(side).Add(float64(n))
}

func (m *metrics) connOpened(side string) {
	if m == nil {
		return
	}
	m.connsActive.WithLabelValues(side).Inc()
}

func (m *metrics) connLost(side string) {
	if m == nil {
		return
	}
	m.connsActive.WithLabelValues(side).Dec()
	m.connsLost.WithLabelValues(side).Inc()
}
