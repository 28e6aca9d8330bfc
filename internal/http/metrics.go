package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

var requestLabels = []string{"method", "route", "status"}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = reuseCollector(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, requestLabels))
		r.requestLatency = reuseCollector(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teamforge",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests.",
			Buckets:   latencyBuckets,
		}, requestLabels))
		r.rateLimitHits = reuseCollector(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by a rate limit tier.",
		}, []string{"route", "tier"}))
		r.metricsInitialized = true
	})
}

// reuseCollector registers c, or returns the collector already registered
// under the same descriptor so several routers can share one registry.
func reuseCollector[C prometheus.Collector](c C) C {
	err := prometheus.Register(c)
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, elapsed time.Duration) {
	if !r.metricsInitialized {
		return
	}
	code := strconv.Itoa(status)
	r.requestTotal.WithLabelValues(method, route, code).Inc()
	r.requestLatency.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

func (r *Router) recordRateLimitHit(route, tier string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.WithLabelValues(route, tier).Inc()
}
