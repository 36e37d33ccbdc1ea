// Package cache implements the two-tier caching layer of the retrieval
// gateway: a bounded in-process fast tier backed by a shared Redis tier,
// with write-through sets, promotion of shared-tier hits, payload
// compression, and per-tier analytics.
package cache

import (
	"context"
	"errors"
	"time"
)

// Tier identifies which cache tier served or stored an entry
type Tier string

const (
	// TierFast is the private in-process tier (L1)
	TierFast Tier = "l1"
	// TierShared is the Redis-backed tier shared across instances (L2)
	TierShared Tier = "l2"
)

var (
	// ErrCacheMiss is returned when a key is not present in any tier.
	// A miss is an expected outcome, not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidInput is returned when a cache key cannot be derived from
	// the supplied input. This indicates a caller bug and is surfaced
	// immediately.
	ErrInvalidInput = errors.New("invalid cache input")

	// ErrBackendUnavailable is returned when the shared tier is
	// unreachable or timed out. Callers must not treat it as a miss.
	ErrBackendUnavailable = errors.New("cache backend unavailable")
)

// Lookup is the result of a successful tiered read. Keeping the serving
// tier alongside the value lets the orchestrator's branching stay
// exhaustive instead of relying on sentinel values.
type Lookup struct {
	Value []byte
	Tier  Tier
}

// ComputeFunc produces the value for a key on a cache miss
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is the consumer-facing contract of the orchestrator. Producers of
// embeddings and query results call GetOrCompute and never touch tier
// internals.
type Cache interface {
	Get(ctx context.Context, ns Namespace, key string) (Lookup, error)
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttlOverride ...time.Duration) error
	Delete(ctx context.Context, key string) error
	GetOrCompute(ctx context.Context, ns Namespace, input KeyInput, compute ComputeFunc, ttlOverride ...time.Duration) ([]byte, error)
}
