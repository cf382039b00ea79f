// Package metrics collects engine metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks operation and cache metrics.
type Collector struct {
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	driverGauge       prometheus.Gauge
}

// NewCollector creates a collector with its own registry. namespace prefixes
// every metric name.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Filesystem operations by name and outcome",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Filesystem operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),
		driverGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pooled_drivers",
			Help:      "Storage drivers currently pooled",
		}),
	}

	registry.MustRegister(
		c.operationCounter,
		c.operationDuration,
		c.cacheCounter,
		c.driverGauge,
	)
	return c
}

// RecordOperation implements the facade's OperationRecorder.
func (c *Collector) RecordOperation(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.operationCounter.WithLabelValues(op, status).Inc()
	c.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCacheHit counts one cache hit.
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheCounter.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss counts one cache miss.
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheCounter.WithLabelValues(cache, "miss").Inc()
}

// SetPooledDrivers reports the current driver pool size.
func (c *Collector) SetPooledDrivers(n int) {
	c.driverGauge.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
