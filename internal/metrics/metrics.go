// Package metrics holds the Prometheus collectors shared by the access layer
// and the HTTP server. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	RateLimitWait   *prometheus.HistogramVec
	Upstream        *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	AuthAttempts    *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, shared)",
		}, []string{"result"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate-limit token",
			Buckets: []float64{0, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		Upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_upstream_requests_total",
			Help: "Outbound requests by provider and HTTP status (or transport_error)",
		}, []string{"provider", "status"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_upstream_request_duration_seconds",
			Help:    "Outbound request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_auth_attempts_total",
			Help: "Session/token acquisitions by result",
		}, []string{"provider", "result"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_pipeline_outcomes_total",
			Help: "Pipeline executions by provider and error code (ok on success)",
		}, []string{"provider", "code"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_http_requests_total",
			Help: "Total HTTP requests served",
		}, []string{"route", "method", "code"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		m.CacheLookups, m.RateLimitWait, m.Upstream, m.UpstreamLatency,
		m.AuthAttempts, m.Outcomes, m.HTTPRequests, m.HTTPLatency,
	)
	return m
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimitWaited(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(provider).Observe(d.Seconds())
}

// UpstreamDone records one outbound call. status <= 0 means the transport failed.
func (m *Metrics) UpstreamDone(provider string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Upstream.WithLabelValues(provider, label).Inc()
	m.UpstreamLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) AuthAttempt(provider string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AuthAttempts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Outcome(provider, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.Outcomes.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) HTTPDone(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(d.Seconds())
}
