package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/rag-gateway/internal/observability"
)

// setupRedisStore creates a store backed by a miniredis server
func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()

	store, err := NewRedisStore(cfg, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return mr, store
}

func TestNewRedisStore_ConnectFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Address = "localhost:1" // nothing listens here
	cfg.MaxDialRetries = 1

	_, err := NewRedisStore(cfg, observability.NewNoopLogger())
	assert.Error(t, err)
}

func TestNewDeferredRedisStore_RecoversWhenBackendReturns(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()
	mr.Close()

	// Construction succeeds with the backend down
	store := NewDeferredRedisStore(cfg, observability.NewNoopLogger())
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err = store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), ErrBackendUnavailable)

	// Backend comes back on the same address; the store serves without
	// being rebuilt
	require.NoError(t, mr.Restart())
	t.Cleanup(mr.Close)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Set(ctx, "key", []byte("value"), time.Minute))
	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}

func TestRedisStore_GetSetRoundTrip(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "key", []byte("small value"), time.Minute))

	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("small value"), value)
}

func TestRedisStore_CompressionRoundTrip(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("embedding-floats-"), 200) // well above 1KB
	require.Greater(t, len(payload), DefaultCompressionThreshold)

	require.NoError(t, store.Set(ctx, "big", payload, time.Minute))

	// The stored payload is gzipped: smaller than the original and
	// carrying the gzip magic
	raw, err := mr.Get("raggw:big")
	require.NoError(t, err)
	assert.True(t, isCompressed([]byte(raw)))
	assert.Less(t, len(raw), len(payload))

	value, err := store.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, payload, value)
}

func TestRedisStore_SmallPayloadStoredUncompressed(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "small", []byte("tiny"), time.Minute))

	raw, err := mr.Get("raggw:small")
	require.NoError(t, err)
	assert.Equal(t, "tiny", raw)
}

func TestRedisStore_GzipLookalikePayloadRoundTrip(t *testing.T) {
	// A raw value that begins with the gzip magic must survive the
	// round trip byte-identically
	_, store := setupRedisStore(t)
	ctx := context.Background()

	payload := []byte{0x1f, 0x8b, 0x00, 0x01, 0x02}
	require.NoError(t, store.Set(ctx, "lookalike", payload, time.Minute))

	value, err := store.Get(ctx, "lookalike")
	require.NoError(t, err)
	assert.Equal(t, payload, value)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("value"), time.Second))

	mr.FastForward(2 * time.Second)

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_Delete(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("value"), time.Minute))
	require.NoError(t, store.Delete(ctx, "key"))

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_DeletePattern(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "embedding:aaa", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "embedding:bbb", []byte("2"), time.Minute))
	require.NoError(t, store.Set(ctx, "query-result:ccc", []byte("3"), time.Minute))

	deleted, err := store.DeletePattern(ctx, "embedding:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = store.Get(ctx, "embedding:aaa")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Other namespaces untouched
	value, err := store.Get(ctx, "query-result:ccc")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
}

func TestRedisStore_Ping(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	mr.Close()
	err := store.Ping(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedisStore_BackendUnavailableIsNotMiss(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	mr.Close()

	_, err := store.Get(ctx, "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	err = store.Set(ctx, "key", []byte("value"), time.Minute)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedisStore_CircuitBreakerOpensAfterFailures(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	mr.Close()

	// Drive the breaker past its consecutive-failure threshold
	for i := 0; i < 6; i++ {
		_, err := store.Get(ctx, "key")
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}

	// Open breaker short-circuits without touching the backend
	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedisStore_MissDoesNotTripBreaker(t *testing.T) {
	_, store := setupRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrCacheMiss)
	}

	// Backend still reachable and serving after a run of misses
	require.NoError(t, store.Set(ctx, "key", []byte("value"), time.Minute))
	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}
