// Package metrics collects Prometheus metrics for the day log engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheCorrupt = "corrupt"
	CacheError   = "error"
)

// MetricsCollector is what the engine and the background jobs record into.
type MetricsCollector interface {
	RecordCacheLookup(result string)
	RecordRemoteRead(duration time.Duration, err error)
	RecordLiveDelivery()
	RecordStaleDiscard()
	RecordMutation(op string, err error)
	RecordStreakRecomputeFailure()
	RecordStreak(current, best int)
	RecordCachePurged(count int64)
}

// Collector is the Prometheus implementation.
type Collector struct {
	cacheLookups   *prometheus.CounterVec
	remoteLatency  prometheus.Histogram
	remoteFailures prometheus.Counter
	liveDeliveries prometheus.Counter
	staleDiscards  prometheus.Counter
	mutations      *prometheus.CounterVec
	recomputeFail  prometheus.Counter
	currentStreak  prometheus.Gauge
	bestStreak     prometheus.Gauge
	cachePurged    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platelog_cache_lookups_total",
			Help: "Historical cache lookups by result",
		}, []string{"result"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platelog_remote_read_seconds",
			Help:    "Latency of remote day reads",
			Buckets: prometheus.DefBuckets,
		}),
		remoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platelog_remote_read_failures_total",
			Help: "Failed remote day reads",
		}),
		liveDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platelog_live_deliveries_total",
			Help: "Snapshots delivered by the live subscription",
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platelog_stale_discards_total",
			Help: "Loads discarded because the view date changed",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platelog_mutations_total",
			Help: "Add and remove operations by result",
		}, []string{"op", "result"}),
		recomputeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platelog_streak_recompute_failures_total",
			Help: "Streak recomputes that kept the previous state",
		}),
		currentStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platelog_streak_current",
			Help: "Current logging streak in days",
		}),
		bestStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platelog_streak_best",
			Help: "Best logging streak in days",
		}),
		cachePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platelog_cache_purged_total",
			Help: "Expired cache entries removed by the purge job",
		}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.remoteLatency,
		c.remoteFailures,
		c.liveDeliveries,
		c.staleDiscards,
		c.mutations,
		c.recomputeFail,
		c.currentStreak,
		c.bestStreak,
		c.cachePurged,
	)

	return c
}

func (c *Collector) RecordCacheLookup(result string) {
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordRemoteRead observes the latency and counts the read as failed when err is set.
func (c *Collector) RecordRemoteRead(duration time.Duration, err error) {
	c.remoteLatency.Observe(duration.Seconds())
	if err != nil {
		c.remoteFailures.Inc()
	}
}

func (c *Collector) RecordLiveDelivery() {
	c.liveDeliveries.Inc()
}

func (c *Collector) RecordStaleDiscard() {
	c.staleDiscards.Inc()
}

func (c *Collector) RecordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.mutations.WithLabelValues(op, result).Inc()
}

func (c *Collector) RecordStreakRecomputeFailure() {
	c.recomputeFail.Inc()
}

func (c *Collector) RecordStreak(current, best int) {
	c.currentStreak.Set(float64(current))
	c.bestStreak.Set(float64(best))
}

func (c *Collector) RecordCachePurged(count int64) {
	c.cachePurged.Add(float64(count))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute serves gatherer under /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
