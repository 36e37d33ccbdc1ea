// Package metrics exposes the gateway's cache analytics as Prometheus
// metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshworks/rag-gateway/internal/cache"
)

const (
	tierFast   = "l1"
	tierShared = "l2"
)

// CacheMetrics holds all Prometheus metrics derived from the cache
// analytics report. Counters mirror the aggregator's counters as gauges
// because the aggregator can be reset by an explicit clear, which a
// Prometheus counter cannot express.
type CacheMetrics struct {
	Hits   prometheus.GaugeVec
	Misses prometheus.GaugeVec
	Sets   prometheus.GaugeVec
	Errors prometheus.GaugeVec

	HitRate        prometheus.GaugeVec
	OverallHitRate prometheus.Gauge

	FastItems       prometheus.GaugeVec
	FastUtilization prometheus.Gauge
}

// NewCacheMetrics creates and registers the cache metrics against reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)

	return &CacheMetrics{
		Hits: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_hits",
			Help: "Cache hits per tier since start or last clear",
		}, []string{"tier"}),
		Misses: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_misses",
			Help: "Cache misses per tier since start or last clear",
		}, []string{"tier"}),
		Sets: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_sets",
			Help: "Cache writes per tier since start or last clear",
		}, []string{"tier"}),
		Errors: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_errors",
			Help: "Cache backend errors per tier since start or last clear",
		}, []string{"tier"}),
		HitRate: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_hit_rate",
			Help: "Per-tier hit rate (hits over lookups reaching that tier)",
		}, []string{"tier"}),
		OverallHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "raggw_cache_overall_hit_rate",
			Help: "Fraction of requests served by either tier",
		}),
		FastItems: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raggw_cache_fast_items",
			Help: "Fast tier entry counts by state",
		}, []string{"state"}),
		FastUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "raggw_cache_fast_utilization",
			Help: "Fast tier fill ratio against its configured bound",
		}),
	}
}

// Update refreshes all gauges from an analytics report. Called on each
// scrape via the collector in the API layer, or periodically.
func (m *CacheMetrics) Update(report cache.AnalyticsReport) {
	m.updateTier(tierFast, report.Stats.L1)
	m.updateTier(tierShared, report.Stats.L2)
	m.OverallHitRate.Set(report.Stats.OverallHitRate)

	m.FastItems.WithLabelValues("total").Set(float64(report.Memory.TotalItems))
	m.FastItems.WithLabelValues("valid").Set(float64(report.Memory.ValidItems))
	m.FastItems.WithLabelValues("expired").Set(float64(report.Memory.ExpiredItems))
	m.FastUtilization.Set(report.Utilization)
}

func (m *CacheMetrics) updateTier(tier string, snapshot cache.TierSnapshot) {
	m.Hits.WithLabelValues(tier).Set(float64(snapshot.Hits))
	m.Misses.WithLabelValues(tier).Set(float64(snapshot.Misses))
	m.Sets.WithLabelValues(tier).Set(float64(snapshot.Sets))
	m.Errors.WithLabelValues(tier).Set(float64(snapshot.Errors))
	m.HitRate.WithLabelValues(tier).Set(snapshot.HitRate)
}
