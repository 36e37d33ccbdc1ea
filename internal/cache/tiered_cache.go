package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meshworks/rag-gateway/internal/observability"
)

const (
	// DefaultFastTTL is the fast-tier TTL applied when a namespace has no
	// explicit configuration
	DefaultFastTTL = time.Hour

	// DefaultSharedTTL is the shared-tier TTL applied when a namespace has
	// no explicit configuration. The shared tier is the longer-lived
	// source of truth, so it must never be shorter than the fast tier's.
	DefaultSharedTTL = 24 * time.Hour

	// DefaultFastMaxItems bounds the fast tier's entry count
	DefaultFastMaxItems = 10000
)

// TieredConfig configures the orchestrator's TTL policy per namespace
type TieredConfig struct {
	FastMaxItems    int
	JanitorInterval time.Duration

	// FastTTL and SharedTTL override the defaults per namespace. For every
	// namespace, shared TTL must be >= fast TTL.
	FastTTL   map[Namespace]time.Duration
	SharedTTL map[Namespace]time.Duration
}

// DefaultTieredConfig returns the orchestrator defaults
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		FastMaxItems:    DefaultFastMaxItems,
		JanitorInterval: time.Minute,
	}
}

// Validate checks the per-namespace TTL invariant. A namespace configured
// in only one of the maps is compared against the other tier's default, so
// a shared TTL below the fast default cannot slip through.
func (c TieredConfig) Validate() error {
	if c.FastMaxItems <= 0 {
		return fmt.Errorf("fast tier max items must be positive, got %d", c.FastMaxItems)
	}

	namespaces := make(map[Namespace]struct{})
	for ns := range c.FastTTL {
		namespaces[ns] = struct{}{}
	}
	for ns := range c.SharedTTL {
		namespaces[ns] = struct{}{}
	}

	for ns := range namespaces {
		fastTTL := DefaultFastTTL
		if t, ok := c.FastTTL[ns]; ok {
			fastTTL = t
		}
		sharedTTL := DefaultSharedTTL
		if t, ok := c.SharedTTL[ns]; ok {
			sharedTTL = t
		}
		if sharedTTL < fastTTL {
			return fmt.Errorf("namespace %q: shared tier TTL %v is shorter than fast tier TTL %v", ns, sharedTTL, fastTTL)
		}
	}
	return nil
}

// HealthStatus reports per-tier health. The shared tier degrading is never
// fatal to the request path; it only shows up here and in error counters.
type HealthStatus struct {
	FastTier   string `json:"l1"`
	SharedTier string `json:"l2"`
}

// ClearResult reports the outcome of a global clear per tier
type ClearResult struct {
	FastRemoved   int    `json:"fast_removed"`
	SharedRemoved int    `json:"shared_removed"`
	SharedError   string `json:"shared_error,omitempty"`
}

// AnalyticsReport is the combined read-only view handed to the analytics
// collaborator: fast-tier contents plus counter-derived hit rates. It is
// computed on demand and never persisted.
type AnalyticsReport struct {
	Memory      MemorySnapshot `json:"memory"`
	Utilization float64        `json:"utilization"`
	Stats       StatsSnapshot  `json:"stats"`
}

// TieredCache orchestrates the fast and shared tiers: read-through with
// promotion, write-through sets, and graceful degradation to fast-tier-only
// operation when the shared tier is unreachable.
//
// Concurrent GetOrCompute calls for the same key may each invoke the
// compute function; there is no in-flight de-duplication. Recomputation is
// idempotent, so duplicate work costs latency, not correctness.
type TieredCache struct {
	fast   *MemoryStore
	shared *RedisStore // nil when the shared tier is disabled
	stats  *Stats
	config TieredConfig
	logger observability.Logger
}

// NewTieredCache creates the orchestrator. Pass a nil shared store to run
// fast-tier-only (for example when Redis is disabled in config).
func NewTieredCache(cfg TieredConfig, shared *RedisStore, logger observability.Logger) (*TieredCache, error) {
	if cfg.FastMaxItems == 0 {
		cfg.FastMaxItems = DefaultFastMaxItems
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tiered cache config: %w", err)
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	fast, err := NewMemoryStore(cfg.FastMaxItems)
	if err != nil {
		return nil, err
	}
	fast.StartJanitor(cfg.JanitorInterval)

	return &TieredCache{
		fast:   fast,
		shared: shared,
		stats:  NewStats(),
		config: cfg,
		logger: logger.WithPrefix("tiered-cache"),
	}, nil
}

// fastTTL returns the fast-tier TTL for a namespace
func (tc *TieredCache) fastTTL(ns Namespace) time.Duration {
	if ttl, ok := tc.config.FastTTL[ns]; ok {
		return ttl
	}
	return DefaultFastTTL
}

// sharedTTL returns the shared-tier TTL for a namespace
func (tc *TieredCache) sharedTTL(ns Namespace) time.Duration {
	if ttl, ok := tc.config.SharedTTL[ns]; ok {
		return ttl
	}
	return DefaultSharedTTL
}

// Get reads through both tiers. A shared-tier hit is promoted into the
// fast tier with the namespace's fast TTL before returning. Shared-tier
// unavailability is recorded and degrades to a miss; it never fails the
// request path.
func (tc *TieredCache) Get(ctx context.Context, ns Namespace, key string) (Lookup, error) {
	if value, err := tc.fast.Get(key); err == nil {
		tc.stats.RecordHit(TierFast)
		return Lookup{Value: value, Tier: TierFast}, nil
	}
	tc.stats.RecordMiss(TierFast)

	if tc.shared == nil {
		return Lookup{}, ErrCacheMiss
	}

	value, err := tc.shared.Get(ctx, key)
	switch {
	case err == nil:
		tc.stats.RecordHit(TierShared)
		tc.promote(ns, key, value)
		return Lookup{Value: value, Tier: TierShared}, nil
	case errors.Is(err, ErrCacheMiss):
		tc.stats.RecordMiss(TierShared)
		return Lookup{}, ErrCacheMiss
	default:
		tc.stats.RecordError(TierShared)
		tc.logger.Warn("shared tier unavailable, degrading to fast tier only", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return Lookup{}, ErrCacheMiss
	}
}

// promote copies a shared-tier hit into the fast tier. The read has
// already returned its value conceptually; a promotion failure is logged
// and counted, never surfaced.
func (tc *TieredCache) promote(ns Namespace, key string, value []byte) {
	if err := tc.fast.Set(key, value, tc.fastTTL(ns)); err != nil {
		tc.stats.RecordError(TierFast)
		tc.logger.Error("promotion into fast tier failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Set writes through both tiers. The fast-tier write must succeed (a
// failure there is a configuration bug); the shared-tier write is
// best-effort and its failure is logged and counted only. An explicit TTL
// override applies to both tiers.
func (tc *TieredCache) Set(ctx context.Context, ns Namespace, key string, value []byte, ttlOverride ...time.Duration) error {
	fastTTL := tc.fastTTL(ns)
	sharedTTL := tc.sharedTTL(ns)
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		fastTTL = ttlOverride[0]
		sharedTTL = ttlOverride[0]
	}

	if err := tc.fast.Set(key, value, fastTTL); err != nil {
		return err
	}
	tc.stats.RecordSet(TierFast)

	if tc.shared == nil {
		return nil
	}
	if err := tc.shared.Set(ctx, key, value, sharedTTL); err != nil {
		tc.stats.RecordError(TierShared)
		tc.logger.Warn("shared tier set failed, fast tier copy still serves", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil
	}
	tc.stats.RecordSet(TierShared)
	return nil
}

// Delete removes a key from both tiers
func (tc *TieredCache) Delete(ctx context.Context, key string) error {
	tc.fast.Delete(key)

	if tc.shared == nil {
		return nil
	}
	if err := tc.shared.Delete(ctx, key); err != nil {
		tc.stats.RecordError(TierShared)
		tc.logger.Warn("shared tier delete failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

// GetOrCompute derives the key for input, reads through the cache, and on
// a miss invokes compute and writes the result through before returning
// it. Cache failures never surface as request failures; the worst case is
// recomputation.
func (tc *TieredCache) GetOrCompute(ctx context.Context, ns Namespace, input KeyInput, compute ComputeFunc, ttlOverride ...time.Duration) ([]byte, error) {
	key, err := MakeKey(ns, input)
	if err != nil {
		return nil, err
	}

	if lookup, err := tc.Get(ctx, ns, key); err == nil {
		return lookup.Value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := tc.Set(ctx, ns, key, value, ttlOverride...); err != nil {
		tc.logger.Warn("caching computed value failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return value, nil
}

// ClearAll empties the fast tier and issues a prefix-wide delete against
// the shared tier, then resets the counters. Per-tier outcomes are
// reported individually so a shared-tier failure does not mask the fast
// tier having been cleared.
func (tc *TieredCache) ClearAll(ctx context.Context) ClearResult {
	result := ClearResult{
		FastRemoved: tc.fast.Clear(),
	}

	if tc.shared != nil {
		removed, err := tc.shared.DeletePattern(ctx, "*")
		result.SharedRemoved = removed
		if err != nil {
			result.SharedError = err.Error()
			tc.logger.Warn("shared tier clear incomplete", map[string]interface{}{
				"removed": removed,
				"error":   err.Error(),
			})
		}
	}

	tc.stats.Reset()
	return result
}

// Health reports per-tier status for the health-check collaborator
func (tc *TieredCache) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		FastTier:   "ok",
		SharedTier: "disabled",
	}
	if tc.shared != nil {
		if err := tc.shared.Ping(ctx); err != nil {
			status.SharedTier = "degraded"
		} else {
			status.SharedTier = "ok"
		}
	}
	return status
}

// Report combines the fast-tier snapshot with the counter snapshot into
// the analytics view
func (tc *TieredCache) Report() AnalyticsReport {
	memory := tc.fast.Snapshot()
	utilization := 0.0
	if memory.MaxItems > 0 {
		utilization = float64(memory.TotalItems) / float64(memory.MaxItems)
	}
	return AnalyticsReport{
		Memory:      memory,
		Utilization: utilization,
		Stats:       tc.stats.Snapshot(),
	}
}

// Stats exposes the metrics aggregator for collectors
func (tc *TieredCache) Stats() *Stats {
	return tc.stats
}

// Close stops the fast tier janitor and releases the shared tier client
func (tc *TieredCache) Close() error {
	tc.fast.Stop()
	if tc.shared != nil {
		return tc.shared.Close()
	}
	return nil
}
