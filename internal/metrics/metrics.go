// ============================================================================
// Metrics - Prometheus instrumentation for the scheduler
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: A Collector that implements internal/action.Observer so the run
// driver can wire scheduler events - a key finishing its rule, a cache
// hit, a rule failure, resource wait time and held units, pool occupancy -
// straight into Prometheus.
//
// Each Collector owns a private prometheus.Registry instead of the
// package-global DefaultRegisterer, so more than one build (or test) can
// construct a Collector in the same process without a
// duplicate-registration panic.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements internal/action.Observer and exposes every metric
// as a Prometheus series on its own registry.
type Collector struct {
	registry *prometheus.Registry

	keysBuilt     prometheus.Counter
	keysCacheHit  prometheus.Counter
	ruleFailures  prometheus.Counter
	keyBuildTime  prometheus.Histogram
	resourceWait  prometheus.Histogram
	resourceUnits prometheus.Gauge
	poolActive    prometheus.Gauge
	poolQueued    prometheus.Gauge
}

// NewCollector builds and registers every scheduler metric against a
// fresh, private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		keysBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_keys_built_total",
			Help: "Total number of keys whose rule ran to completion.",
		}),
		keysCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_keys_cache_hit_total",
			Help: "Total number of cache demands served from another caller's compute run.",
		}),
		ruleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shake_rule_failures_total",
			Help: "Total number of rule executions that returned an error.",
		}),
		keyBuildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shake_key_build_duration_seconds",
			Help:    "Wall time spent actually running a key's rule, excluding discounted wait time.",
			Buckets: prometheus.DefBuckets,
		}),
		resourceWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shake_resource_wait_seconds",
			Help:    "Time an action spent suspended waiting to acquire a resource.",
			Buckets: prometheus.DefBuckets,
		}),
		resourceUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shake_resource_units_held",
			Help: "Current number of resource units held across all withResource calls.",
		}),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shake_pool_active_workers",
			Help: "Current number of pool jobs running.",
		}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shake_pool_queue_depth",
			Help: "Current number of pool jobs queued, waiting for a free slot.",
		}),
	}

	reg.MustRegister(
		c.keysBuilt, c.keysCacheHit, c.ruleFailures,
		c.keyBuildTime, c.resourceWait,
		c.resourceUnits, c.poolActive, c.poolQueued,
	)
	return c
}

// KeyBuilt implements internal/action.Observer.
func (c *Collector) KeyBuilt(d time.Duration) {
	c.keysBuilt.Inc()
	c.keyBuildTime.Observe(d.Seconds())
}

// CacheHit implements internal/action.Observer.
func (c *Collector) CacheHit() { c.keysCacheHit.Inc() }

// RuleFailed implements internal/action.Observer.
func (c *Collector) RuleFailed() { c.ruleFailures.Inc() }

// PoolGauges implements internal/action.Observer.
func (c *Collector) PoolGauges(active, queued int) {
	c.poolActive.Set(float64(active))
	c.poolQueued.Set(float64(queued))
}

// ResourceWait implements internal/action.Observer.
func (c *Collector) ResourceWait(d time.Duration) {
	c.resourceWait.Observe(d.Seconds())
}

// ResourceHeld implements internal/action.Observer; delta is positive on
// acquire and negative on release.
func (c *Collector) ResourceHeld(delta int) {
	c.resourceUnits.Add(float64(delta))
}

// StartServer exposes this Collector's registry on /metrics.
func (c *Collector) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
