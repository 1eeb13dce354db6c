package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Tick counters
	TicksFired   atomic.Uint64
	TicksSkipped atomic.Uint64 // exchange still in flight
	TicksDropped atomic.Uint64 // source not ready

	// Exchange counters
	ExchangesStarted atomic.Uint64
	ExchangesOK      atomic.Uint64
	ExchangesFailed  atomic.Uint64
	ExchangesStale   atomic.Uint64
	Timeouts         atomic.Uint64

	// Latency tracking
	ExchangeLatencyMs atomic.Uint64 // Last exchange latency in ms

	// Detections
	DetectionsAccepted  atomic.Uint64
	DetectionsDiscarded atomic.Uint64 // entries that failed validation

	// Health (0 = checking, 1 = online, 2 = offline)
	HealthStatus atomic.Uint64
	Probes       atomic.Uint64

	// Log sizes
	UILogSize      atomic.Uint64
	SessionLogSize atomic.Uint64

	// Stream clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Capture state
	CaptureActive atomic.Uint64 // 0 = inactive, 1 = active

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Tick metrics
	m.gauge("detect_ticks_total", "Total capture ticks fired", &m.TicksFired)
	m.gauge("detect_ticks_skipped_total", "Ticks skipped because an exchange was in flight", &m.TicksSkipped)
	m.gauge("detect_ticks_dropped_total", "Ticks dropped because the capture source was not ready", &m.TicksDropped)

	// Exchange metrics
	m.gauge("detect_exchanges_started_total", "Total detection exchanges started", &m.ExchangesStarted)
	m.gauge("detect_exchanges_ok_total", "Total detection exchanges applied successfully", &m.ExchangesOK)
	m.gauge("detect_exchanges_failed_total", "Total detection exchanges that failed", &m.ExchangesFailed)
	m.gauge("detect_exchanges_stale_total", "Results discarded because their session had ended", &m.ExchangesStale)
	m.gauge("detect_timeouts_total", "Exchanges that hit the deadline", &m.Timeouts)

	// Latency metrics
	m.gauge("detect_exchange_latency_ms", "Latency of the last exchange in milliseconds", &m.ExchangeLatencyMs)

	m.gauge("detect_detections_accepted_total", "Total detections recorded", &m.DetectionsAccepted)
	m.gauge("detect_detections_discarded_total", "Detections skipped because they failed validation", &m.DetectionsDiscarded)

	// Health metrics
	m.gauge("detect_health_status", "Service health (0=checking, 1=online, 2=offline)", &m.HealthStatus)
	m.gauge("detect_health_probes_total", "Total health probes", &m.Probes)

	// History metrics
	m.gauge("detect_ui_log_size", "Entries in the bounded UI log", &m.UILogSize)
	m.gauge("detect_session_log_size", "Entries in the session log", &m.SessionLogSize)

	// Client metrics
	m.gauge("detect_stream_active_clients", "Number of active stream clients", &m.ActiveClients)
	m.gauge("detect_stream_total_clients", "Total stream clients connected", &m.TotalClients)

	m.gauge("detect_capture_active", "Capture active (0=inactive, 1=active)", &m.CaptureActive)
}

// UpdateExchangeLatency records the latency of the last exchange
func (m *Metrics) UpdateExchangeLatency(d time.Duration) {
	m.ExchangeLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateLogSizes records the current history sizes
func (m *Metrics) UpdateLogSizes(ui, session int) {
	m.UILogSize.Store(uint64(ui))
	m.SessionLogSize.Store(uint64(session))
}

// SetCaptureActive flips the capture gauge
func (m *Metrics) SetCaptureActive(active bool) {
	if active {
		m.CaptureActive.Store(1)
	} else {
		m.CaptureActive.Store(0)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
