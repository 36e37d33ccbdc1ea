package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedCache wraps an orchestrator with distributed tracing. Misses are
// recorded on the span but not marked as errors, since they are an
// expected outcome.
type TracedCache struct {
	inner  Cache
	tracer trace.Tracer
}

// NewTracedCache wraps cache with tracing. Returns cache unwrapped when no
// tracer is supplied.
func NewTracedCache(inner Cache, tracer trace.Tracer) Cache {
	if tracer == nil {
		return inner
	}
	return &TracedCache{
		inner:  inner,
		tracer: tracer,
	}
}

// Get reads through the cache, annotating the span with the serving tier
func (tc *TracedCache) Get(ctx context.Context, ns Namespace, key string) (Lookup, error) {
	ctx, span := tc.startSpan(ctx, "cache.get", ns, key)
	defer span.End()

	lookup, err := tc.inner.Get(ctx, ns, key)
	if err != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		if !errors.Is(err, ErrCacheMiss) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache get failed")
		}
		return lookup, err
	}

	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.String("cache.tier", string(lookup.Tier)),
	)
	return lookup, nil
}

// Set writes through the cache under a span
func (tc *TracedCache) Set(ctx context.Context, ns Namespace, key string, value []byte, ttlOverride ...time.Duration) error {
	ctx, span := tc.startSpan(ctx, "cache.set", ns, key)
	defer span.End()

	span.SetAttributes(attribute.Int("cache.value_size", len(value)))

	err := tc.inner.Set(ctx, ns, key, value, ttlOverride...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache set failed")
	}
	return err
}

// Delete removes a key under a span
func (tc *TracedCache) Delete(ctx context.Context, key string) error {
	ctx, span := tc.tracer.Start(ctx, "cache.delete",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	err := tc.inner.Delete(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache delete failed")
	}
	return err
}

// GetOrCompute reads through and, on a miss, computes under the same span
// so the compute latency is attributed to the cache miss
func (tc *TracedCache) GetOrCompute(ctx context.Context, ns Namespace, input KeyInput, compute ComputeFunc, ttlOverride ...time.Duration) ([]byte, error) {
	ctx, span := tc.tracer.Start(ctx, "cache.get_or_compute",
		trace.WithAttributes(attribute.String("cache.namespace", string(ns))))
	defer span.End()

	value, err := tc.inner.GetOrCompute(ctx, ns, input, compute, ttlOverride...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get or compute failed")
		return nil, err
	}
	return value, nil
}

func (tc *TracedCache) startSpan(ctx context.Context, name string, ns Namespace, key string) (context.Context, trace.Span) {
	return tc.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("cache.namespace", string(ns)),
		attribute.String("cache.key", key),
	))
}
