// Package metrics exposes Prometheus instruments for the fallback proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routing decisions recorded by the proxy.
const (
	RouteForward  = "forward"
	RouteFallback = "fallback"
	RouteError    = "error"
)

// Recorder is what the proxy and lifecycle report to. A nil *Collector is
// not a valid Recorder; use Nop when metrics are disabled.
type Recorder interface {
	ObserveRequest(route string, status int, d time.Duration)
	UpstreamError()
	Rebuild()
}

// Collector owns the registry and every spadev instrument.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	upstreamErrors prometheus.Counter
	rebuilds       prometheus.Counter
}

// NewCollector registers the instruments on registry, or on a fresh
// registry when registry is nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spadev",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by routing decision and client status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spadev",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving proxied requests, by routing decision.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spadev",
			Subsystem: "proxy",
			Name:      "upstream_errors_total",
			Help:      "Requests answered with 502 because the upstream could not be reached.",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spadev",
			Subsystem: "upstream",
			Name:      "rebuilds_total",
			Help:      "Rebuild notifications received from the dev server.",
		}),
	}

	registry.MustRegister(c.requests, c.duration, c.upstreamErrors, c.rebuilds)
	return c
}

// ObserveRequest implements Recorder.
func (c *Collector) ObserveRequest(route string, status int, d time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(route).Observe(d.Seconds())
}

// UpstreamError implements Recorder.
func (c *Collector) UpstreamError() {
	c.upstreamErrors.Inc()
}

// Rebuild implements Recorder.
func (c *Collector) Rebuild() {
	c.rebuilds.Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

type nop struct{}

func (nop) ObserveRequest(string, int, time.Duration) {}
func (nop) UpstreamError()                            {}
func (nop) Rebuild()                                  {}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nop{}
}
