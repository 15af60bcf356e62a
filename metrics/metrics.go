// Package metrics exposes Prometheus counters for analyses and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records service metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	analyses         *prometheus.CounterVec
	upstreamFailures prometheus.Counter
	requestDuration  *prometheus.HistogramVec
}

// NewRecorder registers the service metrics on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "penaltydesk_analyses_total",
			Help: "Verdicts produced, by analysis mode and penalty severity.",
		}, []string{"mode", "severity"}),
		upstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "penaltydesk_upstream_failures_total",
			Help: "Failed calls to the steward query service or generative model.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "penaltydesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	r.registry.MustRegister(
		r.analyses,
		r.upstreamFailures,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// AnalysisCompleted counts a produced verdict
func (r *Recorder) AnalysisCompleted(mode, severity string) {
	if r == nil {
		return
	}
	r.analyses.WithLabelValues(mode, severity).Inc()
}

// UpstreamFailed counts a failed model call
func (r *Recorder) UpstreamFailed() {
	if r == nil {
		return
	}
	r.upstreamFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware observes request latency labelled by the matched route
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if r == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
