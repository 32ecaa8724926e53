// Package metrics exposes Prometheus instrumentation for the inverter
// core: connection lifecycle, request latency, and keep-alive activity.
// All methods are nil-safe so a caller that doesn't want a /metrics
// endpoint can simply pass a nil *Recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder provides Prometheus metrics for the discovery/session/monitor
// packages. All methods are nil-safe: calls on a nil *Recorder are no-ops.
type Recorder struct {
	// ConnectionsTotal counts discovery attempts, labeled by outcome:
	// "connected", "not_found", "error".
	ConnectionsTotal *prometheus.CounterVec

	// SessionOpenGauge is 1 while a session is open, 0 otherwise.
	SessionOpenGauge prometheus.Gauge

	// RequestsTotal counts session requests, labeled by request
	// identifier (hex) and outcome: "ok", "error".
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes request round-trip latency in seconds.
	RequestDuration prometheus.Histogram

	// KeepAlivesTotal counts keep-alive frames sent.
	KeepAlivesTotal prometheus.Counter

	// SamplesTotal counts status samples successfully decoded.
	SamplesTotal prometheus.Counter
}

// New creates a Recorder and registers its collectors with reg. If reg is
// nil, the collectors are created but never registered, which is
// convenient for tests.
func New(reg prometheus.Registerer) *Recorder {
	m := &Recorder{
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solarriver",
			Subsystem: "discovery",
			Name:      "connections_total",
			Help:      "Discovery handshakes, labeled by outcome.",
		}, []string{"outcome"}),
		SessionOpenGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solarriver",
			Subsystem: "session",
			Name:      "open",
			Help:      "1 while a session is open, 0 otherwise.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solarriver",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Session requests, labeled by request id and outcome.",
		}, []string{"request_id", "outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "solarriver",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Round-trip latency of session requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~20s
		}),
		KeepAlivesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solarriver",
			Subsystem: "session",
			Name:      "keep_alives_total",
			Help:      "Keep-alive frames sent while the application was idle.",
		}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solarriver",
			Subsystem: "monitor",
			Name:      "samples_total",
			Help:      "Status samples successfully decoded.",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.ConnectionsTotal,
			m.SessionOpenGauge,
			m.RequestsTotal,
			m.RequestDuration,
			m.KeepAlivesTotal,
			m.SamplesTotal,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return m
}

// ConnectionOutcome records a discovery handshake outcome.
func (m *Recorder) ConnectionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(outcome).Inc()
}

// SessionOpened marks the session gauge open.
func (m *Recorder) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionOpenGauge.Set(1)
}

// SessionClosed marks the session gauge closed.
func (m *Recorder) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionOpenGauge.Set(0)
}

// Request records one request's outcome and latency.
func (m *Recorder) Request(requestID string, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(requestID, outcome).Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// KeepAliveSent records one keep-alive frame.
func (m *Recorder) KeepAliveSent() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// SampleDecoded records one successfully decoded status sample.
func (m *Recorder) SampleDecoded() {
	if m == nil {
		return
	}
	m.SamplesTotal.Inc()
}
