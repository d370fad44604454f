// Package metrics exposes Prometheus collectors for engine operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyphercast"

// Collector holds the collectors registered on a private registry.
type Collector struct {
	registry *prometheus.Registry

	opsTotal      *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	lockWait      prometheus.Histogram
	eventsTotal   *prometheus.CounterVec
	stakedTotal   prometheus.Counter
	paidOutTotal  *prometheus.CounterVec
	archivedTotal prometheus.Counter
	wsClients     prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors included.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		opsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result code",
		}, []string{"op", "result"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing an engine operation, lock wait included",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-record lock",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events emitted after commit, by type",
		}, []string{"type"}),
		stakedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "staked_base_units_total",
			Help:      "Base units deposited into stream vaults",
		}),
		paidOutTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "released_base_units_total",
			Help:      "Base units released from stream vaults, by reason",
		}, []string{"reason"}),
		archivedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "streams_total",
			Help:      "Settled streams written to object storage",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket clients",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status",
		}, []string{"method", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveOp records one engine operation. result is "ok" or an error code.
func (c *Collector) ObserveOp(op, result string, took time.Duration) {
	c.opsTotal.WithLabelValues(op, result).Inc()
	c.opDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (c *Collector) ObserveLockWait(took time.Duration) { c.lockWait.Observe(took.Seconds()) }

func (c *Collector) Event(eventType string) { c.eventsTotal.WithLabelValues(eventType).Inc() }

func (c *Collector) Staked(amount uint64) { c.stakedTotal.Add(float64(amount)) }

// Released counts base units leaving a vault. reason is reward, refund or tip.
func (c *Collector) Released(reason string, amount uint64) {
	c.paidOutTotal.WithLabelValues(reason).Add(float64(amount))
}

func (c *Collector) Archived(n int64) { c.archivedTotal.Add(float64(n)) }

func (c *Collector) WSClients(n int) { c.wsClients.Set(float64(n)) }

func (c *Collector) ObserveHTTP(method, status string, took time.Duration) {
	c.httpRequests.WithLabelValues(method, status).Inc()
	c.httpLatency.WithLabelValues(method).Observe(took.Seconds())
}
