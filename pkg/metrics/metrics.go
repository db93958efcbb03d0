// Package metrics exposes pool state and operation latencies as Prometheus
// metrics, scraped via the handler Collector.Handler returns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements pool.Metrics against real Prometheus collectors. It
// is safe for concurrent use — every field is itself a prometheus.Collector,
// which already guards its own internals.
type Collector struct {
	reg *prometheus.Registry

	count                prometheus.Gauge
	active               prometheus.Gauge
	idle                 prometheus.Gauge
	waitingOnGlobalQueue prometheus.Gauge

	spawns       prometheus.Counter
	spawnErrors  prometheus.Counter
	connectErrors prometheus.Counter
	retired      *prometheus.CounterVec

	spawnLatency   prometheus.Histogram
	connectLatency prometheus.Histogram
}

// NewCollector builds a Collector with its own private registry, so
// multiple Collectors (e.g. one per test) never collide on metric names.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		count: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "apppool", Name: "containers", Help: "Total containers currently tracked by the pool.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "apppool", Name: "active_containers", Help: "Containers with at least one open session.",
		}),
		idle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "apppool", Name: "idle_containers", Help: "Containers in the idle registry.",
		}),
		waitingOnGlobalQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "apppool", Name: "waiting_on_global_queue", Help: "Callers blocked on the global overflow queue.",
		}),
		spawns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "apppool", Name: "spawns_total", Help: "Total instance spawn attempts that succeeded.",
		}),
		spawnErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "apppool", Name: "spawn_errors_total", Help: "Total instance spawn attempts that failed.",
		}),
		connectErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "apppool", Name: "connect_errors_total", Help: "Total Instance.Connect failures.",
		}),
		retired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apppool", Name: "retired_total", Help: "Containers retired, labeled by reason.",
		}, []string{"reason"}),
		spawnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apppool", Name: "spawn_latency_seconds", Help: "Spawner.Spawn call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		connectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apppool", Name: "connect_latency_seconds", Help: "Instance.Connect call latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetGauges updates the pool-wide point-in-time gauges.
func (c *Collector) SetGauges(count, active, idle, waitingOnGlobalQueue int) {
	c.count.Set(float64(count))
	c.active.Set(float64(active))
	c.idle.Set(float64(idle))
	c.waitingOnGlobalQueue.Set(float64(waitingOnGlobalQueue))
}

func (c *Collector) IncSpawns()        { c.spawns.Inc() }
func (c *Collector) IncSpawnErrors()   { c.spawnErrors.Inc() }
func (c *Collector) IncConnectErrors() { c.connectErrors.Inc() }

func (c *Collector) IncRetired(reason string) { c.retired.WithLabelValues(reason).Inc() }

func (c *Collector) ObserveSpawnLatency(d time.Duration)   { c.spawnLatency.Observe(d.Seconds()) }
func (c *Collector) ObserveConnectLatency(d time.Duration) { c.connectLatency.Observe(d.Seconds()) }

// Handler returns the HTTP handler a caller should mount at /metrics,
// serving only this Collector's own registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
