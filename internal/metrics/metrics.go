// metrics — prometheus-метрики BFF.
//
// Все методы безопасны на nil-приёмнике: компоненты можно собирать без метрик.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bff"

// Исходы вызова апстрима.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // 4xx / status:"error"
	OutcomeError    = "error"    // сеть, таймаут, 5xx
)

// Результаты refresh.
const (
	RefreshOK     = "ok"
	RefreshFailed = "failed"
)

type Metrics struct {
	httpInFlight     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	refreshes        *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg (nil — без регистрации).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to the identity service by operation and outcome.",
		}, []string{"op", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Identity service call latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_refresh_total",
			Help:      "Access token refresh attempts made by the relay.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejected_total",
			Help:      "Requests rejected by the sign-in/sign-up rate limiter.",
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpInFlight,
			m.httpRequests,
			m.httpDuration,
			m.upstreamRequests,
			m.upstreamDuration,
			m.refreshes,
			m.rateLimited,
		)
	}

	return m
}

// Instrument — middleware: RPS/latency/в полёте по шаблону маршрута chi.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}

		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

// ObserveUpstream фиксирует один вызов апстрима.
func (m *Metrics) ObserveUpstream(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.upstreamRequests.WithLabelValues(op, outcome).Inc()
	m.upstreamDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRefresh фиксирует попытку refresh (RefreshOK/RefreshFailed).
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}

	m.refreshes.WithLabelValues(result).Inc()
}

// RateLimited фиксирует отказ лимитера.
func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}

	m.rateLimited.WithLabelValues(route).Inc()
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
