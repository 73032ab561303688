package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irensaltali/serverlessapigateway/internal/middleware"
)

const namespace = "sag"

// unmatchedRoute labels requests that never reached route selection.
const unmatchedRoute = "none"

// Collector tracks gateway metrics in its own Prometheus registry.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	authFailures      *prometheus.CounterVec
	integrationErrors *prometheus.CounterVec
	configLoads       *prometheus.CounterVec
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests handled, by matched route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration in seconds of a request, by matched route.",
			Buckets:   DefaultBuckets,
		}, []string{"route", "method"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected authentications, by authorizer type and error code.",
		}, []string{"authorizer", "code"}),
		integrationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "errors_total",
			Help:      "Failed integration dispatches, by integration type and error code.",
		}, []string{"integration", "code"}),
		configLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "loads_total",
			Help:      "API configuration loads, by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestDuration,
		c.authFailures,
		c.integrationErrors,
		c.configLoads,
	)
	c.handler = promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return c
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	if route == "" {
		route = unmatchedRoute
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordAuthFailure counts a rejected authentication.
func (c *Collector) RecordAuthFailure(authorizer, code string) {
	c.authFailures.WithLabelValues(authorizer, code).Inc()
}

// RecordIntegrationError counts a failed integration dispatch.
func (c *Collector) RecordIntegrationError(integration, code string) {
	c.integrationErrors.WithLabelValues(integration, code).Inc()
}

// RecordConfigLoad counts a configuration load attempt.
func (c *Collector) RecordConfigLoad(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.configLoads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return c.handler
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Middleware records every request passing through. It must run inside the
// request ID middleware for the matched route to be known.
func (c *Collector) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := middleware.NewResponseRecorder(w)
			next.ServeHTTP(rec, r)

			var route string
			if info := middleware.RequestInfoFromContext(r.Context()); info != nil {
				route = info.Route
			}
			c.RecordRequest(route, r.Method, rec.Status(), time.Since(start))
		})
	}
}
