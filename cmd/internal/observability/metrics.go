// Package observability exposes Prometheus metrics for the auth service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vnipet"

// Metrics implements authapi.Metrics and carries the HTTP and sweep series.
// Each instance owns its registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   *prometheus.CounterVec
	revoked   *prometheus.CounterVec
	swept     prometheus.Counter

	httpDuration *prometheus.HistogramVec
	routes       map[string]struct{}
}

// NewMetrics registers every series. routes bounds the "route" label; any
// other path is reported as "other".
func NewMetrics(routes ...string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Logout calls by outcome.",
		}, []string{"outcome"}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_tokens_revoked_total",
			Help:      "Refresh tokens revoked by reason.",
		}, []string{"reason"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_tokens_swept_total",
			Help:      "Expired or long-revoked refresh tokens deleted by the sweeper.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status_class"}),
		routes: make(map[string]struct{}, len(routes)),
	}
	for _, r := range routes {
		m.routes[r] = struct{}{}
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.refreshes, m.logouts, m.revoked, m.swept, m.httpDuration,
	)
	return m
}

func (m *Metrics) Login(outcome string)   { m.logins.WithLabelValues(outcome).Inc() }
func (m *Metrics) Refresh(outcome string) { m.refreshes.WithLabelValues(outcome).Inc() }
func (m *Metrics) Logout(outcome string)  { m.logouts.WithLabelValues(outcome).Inc() }

// TokensRevoked adds n to the revocation counter. Zero is ignored so
// idempotent revocations do not create empty series.
func (m *Metrics) TokensRevoked(reason string, n int64) {
	if n <= 0 {
		return
	}
	m.revoked.WithLabelValues(reason).Add(float64(n))
}

// Swept is the sweeper observer.
func (m *Metrics) Swept(n int64) {
	if n > 0 {
		m.swept.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Instrument records request latency for next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.httpDuration.
			WithLabelValues(r.Method, m.route(r.URL.Path), strconv.Itoa(rec.status/100)+"xx").
			Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) route(path string) string {
	if _, ok := m.routes[path]; ok {
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
