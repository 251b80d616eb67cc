// Package metrics exposes Prometheus instruments for the request pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "switchboard"

// Collector holds every instrument, registered on its own registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec
	executionSeconds *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	costTotal        *prometheus.CounterVec
	similarity       prometheus.Histogram
	degradations     *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by the pipeline, by operation and outcome source.",
		}, []string{"operation", "source"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		executionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_executions_total",
			Help:      "Real backend executions by backend and status.",
		}, []string{"backend", "status"}),
		executionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_execution_duration_seconds",
			Help:      "Backend execution latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"backend"}),
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by real executions.",
		}, []string{"model", "direction"}),
		costTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "USD cost of real executions.",
		}, []string{"model"}),
		similarity: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "semantic_similarity",
			Help:      "Best cosine similarity of semantic cache hits.",
			Buckets:   []float64{0.9, 0.92, 0.94, 0.96, 0.98, 0.99, 1},
		}),
		degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Best-effort steps that were skipped.",
		}, []string{"step"}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRequest counts a finished request by where its answer came from.
func (c *Collector) ObserveRequest(operation, source string) {
	c.requestsTotal.WithLabelValues(operation, source).Inc()
}

// ObserveCacheLookup counts a lookup on tier ("exact" or "semantic").
func (c *Collector) ObserveCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(tier, result).Inc()
}

// ObserveSimilarity records the score of a semantic hit.
func (c *Collector) ObserveSimilarity(score float64) {
	c.similarity.Observe(score)
}

// ObserveExecution records a backend call.
func (c *Collector) ObserveExecution(backend, model string, d time.Duration, tokensIn, tokensOut int, cost float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.executionsTotal.WithLabelValues(backend, status).Inc()
	c.executionSeconds.WithLabelValues(backend).Observe(d.Seconds())
	if err != nil {
		return
	}
	c.tokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	c.tokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	c.costTotal.WithLabelValues(model).Add(cost)
}

// ObserveDegradation counts a skipped best-effort step.
func (c *Collector) ObserveDegradation(step string) {
	c.degradations.WithLabelValues(step).Inc()
}

// ObserveHTTP records an API request.
func (c *Collector) ObserveHTTP(method, path string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
