package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	authFailure *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{registry: reg}

	c.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_operations_total",
		Help: "License lifecycle operations by outcome",
	}, []string{"operation", "outcome"})
	reg.MustRegister(c.operations)

	c.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "license_operation_duration_seconds",
		Help:    "Latency of license lifecycle operations",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})
	reg.MustRegister(c.latency)

	c.authFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_auth_failures_total",
		Help: "Rejected credentials by surface",
	}, []string{"surface"})
	reg.MustRegister(c.authFailure)

	c.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})
	reg.MustRegister(c.rateLimited)

	c.httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_http_requests_total",
		Help: "HTTP requests by route pattern and status class",
	}, []string{"route", "method", "code"})
	reg.MustRegister(c.httpReqs)

	return c
}

func (c *Collector) ObserveOperation(op, outcome string, d time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) AuthFailure(surface string) {
	c.authFailure.WithLabelValues(surface).Inc()
}

func (c *Collector) RateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

func (c *Collector) HTTPRequest(route, method, code string) {
	c.httpReqs.WithLabelValues(route, method, code).Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
