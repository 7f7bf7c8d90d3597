package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Upstream metrics
	UpstreamFetches     *prometheus.CounterVec
	CredentialRotations prometheus.Counter
	TunnelsLive         prometheus.Gauge
	TunnelsOpened       prometheus.Counter

	// Redirect resolution metrics
	RedirectHops           prometheus.Histogram
	UnresolvedInterstitial prometheus.Counter

	// Relay metrics
	RelayRequests *prometheus.CounterVec

	// Rewrite metrics
	RewriteDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the JSON endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API.
type Snapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	TotalFetches   int64
	FetchFailures  int64
	Rotations      int64
	ActiveSessions int64
	TotalDuration  float64
	RequestCount   int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ResponseSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_response_size_bytes",
			Help:    "HTTP response size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "path"}),

		UpstreamFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_fetches_total",
			Help: "Upstream fetches by outcome (ok, error, timeout, exhausted)",
		}, []string{"outcome"}),

		CredentialRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_credential_rotations_total",
			Help: "Upstream credential rotations triggered by fetch failures",
		}),

		TunnelsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_tunnels_live",
			Help: "Currently open anonymized local tunnels",
		}),

		TunnelsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tunnels_opened_total",
			Help: "Tunnels opened over process lifetime",
		}),

		RedirectHops: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_redirect_hops",
			Help:    "Hops taken per redirect chain resolution",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),

		UnresolvedInterstitial: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_unresolved_interstitials_total",
			Help: "Interstitial pages no extraction strategy could resolve",
		}),

		RelayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_relay_requests_total",
			Help: "Relay requests by classification",
		}, []string{"class"}),

		RewriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_rewrite_duration_seconds",
			Help:    "Content rewrite duration by kind (html, css)",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Currently active visitor sessions",
		}),

		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_total",
			Help: "Visitor sessions created over process lifetime",
		}),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_uptime_seconds",
			Help: "Process uptime",
		}),
	}

	return m
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if respSize > 0 {
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.RequestCount++
	m.snapshot.TotalDuration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordFetch records one upstream fetch attempt outcome.
func (m *Metrics) RecordFetch(outcome string) {
	m.UpstreamFetches.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.TotalFetches++
	if outcome != "ok" {
		m.snapshot.FetchFailures++
	}
	m.mu.Unlock()
}

// RecordRotation records one credential rotation.
func (m *Metrics) RecordRotation() {
	m.CredentialRotations.Inc()

	m.mu.Lock()
	m.snapshot.Rotations++
	m.mu.Unlock()
}

// RecordTunnelOpened records one new tunnel.
func (m *Metrics) RecordTunnelOpened() {
	m.TunnelsOpened.Inc()
	m.TunnelsLive.Inc()
}

// RecordTunnelClosed records a tunnel teardown.
func (m *Metrics) RecordTunnelClosed() {
	m.TunnelsLive.Dec()
}

// RecordRedirectChain records a finished chain resolution.
func (m *Metrics) RecordRedirectChain(hops int, unresolved bool) {
	m.RedirectHops.Observe(float64(hops))
	if unresolved {
		m.UnresolvedInterstitial.Inc()
	}
}

// RecordRelay records one relay request by classification.
func (m *Metrics) RecordRelay(class string) {
	m.RelayRequests.WithLabelValues(class).Inc()
}

// RecordRewrite records a rewrite pass.
func (m *Metrics) RecordRewrite(kind string, duration time.Duration) {
	m.RewriteDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SessionCreated tracks session creation.
func (m *Metrics) SessionCreated() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()

	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionDestroyed tracks session teardown.
func (m *Metrics) SessionDestroyed() {
	m.SessionsActive.Dec()

	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// GetSnapshot returns current values for the JSON endpoint.
func (m *Metrics) GetSnapshot() Snapshot {
	m.Uptime.Set(time.Since(m.startTime).Seconds())

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns seconds since process start.
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
