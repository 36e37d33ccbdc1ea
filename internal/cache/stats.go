package cache

import "sync/atomic"

// tierCounters holds the monotonically increasing counters for one tier
type tierCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

func (c *tierCounters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.errors.Store(0)
}

// Stats aggregates per-tier hit/miss/set/error counters. It is an
// explicitly owned component injected into the orchestrator, not ambient
// global state; counters live for the process lifetime unless Reset.
type Stats struct {
	l1 tierCounters
	l2 tierCounters
}

// NewStats creates a zeroed metrics aggregator
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) tier(t Tier) *tierCounters {
	if t == TierShared {
		return &s.l2
	}
	return &s.l1
}

// RecordHit increments the hit counter for a tier
func (s *Stats) RecordHit(t Tier) { s.tier(t).hits.Add(1) }

// RecordMiss increments the miss counter for a tier
func (s *Stats) RecordMiss(t Tier) { s.tier(t).misses.Add(1) }

// RecordSet increments the set counter for a tier
func (s *Stats) RecordSet(t Tier) { s.tier(t).sets.Add(1) }

// RecordError increments the error counter for a tier
func (s *Stats) RecordError(t Tier) { s.tier(t).errors.Add(1) }

// Reset zeroes all counters. Invoked only by an explicit clear.
func (s *Stats) Reset() {
	s.l1.reset()
	s.l2.reset()
}

// TierSnapshot is the point-in-time counter state for one tier
type TierSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// StatsSnapshot combines both tiers with the derived hit-rate figures
type StatsSnapshot struct {
	L1 TierSnapshot `json:"l1"`
	L2 TierSnapshot `json:"l2"`

	// OverallHitRate is the true request-level ratio
	// (l1_hits + l2_hits) / (l1_hits + l1_misses); every fast-tier miss
	// triggers exactly one shared-tier lookup, so l1_misses equals the
	// number of shared-tier lookups attempted.
	OverallHitRate float64 `json:"overall_hit_rate"`
}

// Snapshot computes the current counter state and hit rates. A zero
// denominator yields a rate of 0.0, never NaN.
func (s *Stats) Snapshot() StatsSnapshot {
	l1Hits := s.l1.hits.Load()
	l1Misses := s.l1.misses.Load()
	l2Hits := s.l2.hits.Load()
	l2Misses := s.l2.misses.Load()

	return StatsSnapshot{
		L1: TierSnapshot{
			Hits:    l1Hits,
			Misses:  l1Misses,
			Sets:    s.l1.sets.Load(),
			Errors:  s.l1.errors.Load(),
			HitRate: safeRate(l1Hits, l1Hits+l1Misses),
		},
		L2: TierSnapshot{
			Hits:    l2Hits,
			Misses:  l2Misses,
			Sets:    s.l2.sets.Load(),
			Errors:  s.l2.errors.Load(),
			HitRate: safeRate(l2Hits, l2Hits+l2Misses),
		},
		OverallHitRate: safeRate(l1Hits+l2Hits, l1Hits+l1Misses),
	}
}

func safeRate(numerator, denominator int64) float64 {
	if denominator <= 0 {
		return 0.0
	}
	return float64(numerator) / float64(denominator)
}
