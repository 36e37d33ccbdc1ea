package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeClock drives expiry deterministically without sleeping
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, maxItems int) (*MemoryStore, *fakeClock) {
	t.Helper()
	store, err := NewMemoryStore(maxItems)
	require.NoError(t, err)
	clock := newFakeClock()
	store.now = clock.Now
	return store, clock
}

func TestNewMemoryStore_InvalidMaxItems(t *testing.T) {
	_, err := NewMemoryStore(0)
	assert.Error(t, err)

	_, err = NewMemoryStore(-5)
	assert.Error(t, err)
}

func TestMemoryStore_GetSet(t *testing.T) {
	store, _ := newTestStore(t, 10)

	_, err := store.Get("absent")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set("key", []byte("value"), time.Minute))

	value, err := store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)
}

func TestMemoryStore_EntriesAreIndependentCopies(t *testing.T) {
	store, _ := newTestStore(t, 10)

	original := []byte("value")
	require.NoError(t, store.Set("key", original, time.Minute))

	// Mutating the slice passed to Set must not reach the cache
	original[0] = 'X'
	got, err := store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	// Mutating the slice returned by Get must not either
	got[0] = 'Y'
	again, err := store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryStore_SetInvalidTTL(t *testing.T) {
	store, _ := newTestStore(t, 10)

	assert.Error(t, store.Set("key", []byte("value"), 0))
	assert.Error(t, store.Set("key", []byte("value"), -time.Second))
}

func TestMemoryStore_OverwriteResetsTTL(t *testing.T) {
	store, clock := newTestStore(t, 10)

	require.NoError(t, store.Set("key", []byte("v1"), time.Second))
	clock.Advance(800 * time.Millisecond)
	require.NoError(t, store.Set("key", []byte("v2"), time.Second))
	clock.Advance(800 * time.Millisecond)

	// Original TTL would have expired by now; the overwrite reset it
	value, err := store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store, clock := newTestStore(t, 10)

	require.NoError(t, store.Set("key", []byte("value"), time.Second))
	clock.Advance(2 * time.Second)

	_, err := store.Get("key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// The expired entry was purged as a side effect of Get
	snap := store.Snapshot()
	assert.Equal(t, 0, snap.TotalItems)
	assert.Equal(t, 0, snap.ValidItems)
}

func TestMemoryStore_SnapshotCountsExpired(t *testing.T) {
	store, clock := newTestStore(t, 10)

	require.NoError(t, store.Set("short", []byte("a"), time.Second))
	require.NoError(t, store.Set("long", []byte("b"), time.Hour))
	clock.Advance(2 * time.Second)

	snap := store.Snapshot()
	assert.Equal(t, 2, snap.TotalItems)
	assert.Equal(t, 1, snap.ValidItems)
	assert.Equal(t, 1, snap.ExpiredItems)
	assert.Equal(t, 10, snap.MaxItems)
}

func TestMemoryStore_CapacityBound(t *testing.T) {
	const maxItems = 5
	store, _ := newTestStore(t, maxItems)

	for i := 0; i < maxItems+1; i++ {
		require.NoError(t, store.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Hour))
	}

	assert.LessOrEqual(t, store.Snapshot().TotalItems, maxItems)
}

func TestMemoryStore_EvictsNearestExpiry(t *testing.T) {
	store, _ := newTestStore(t, 2)

	require.NoError(t, store.Set("soon", []byte("a"), time.Minute))
	require.NoError(t, store.Set("later", []byte("b"), time.Hour))
	require.NoError(t, store.Set("new", []byte("c"), time.Hour))

	// The entry closest to expiry was evicted, not the oldest insert
	_, err := store.Get("soon")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = store.Get("later")
	assert.NoError(t, err)
	_, err = store.Get("new")
	assert.NoError(t, err)
}

func TestMemoryStore_EvictionTieBreaksOnLeastRecentlySet(t *testing.T) {
	store, clock := newTestStore(t, 2)

	// Same expiry instant: "first" is set earlier, so it loses the tie
	require.NoError(t, store.Set("first", []byte("a"), time.Hour))
	clock.Advance(time.Minute)
	require.NoError(t, store.Set("second", []byte("b"), time.Hour-time.Minute))
	clock.Advance(time.Minute)
	require.NoError(t, store.Set("new", []byte("c"), time.Hour))

	_, err := store.Get("first")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = store.Get("second")
	assert.NoError(t, err)
}

func TestMemoryStore_EvictionPrefersExpired(t *testing.T) {
	store, clock := newTestStore(t, 2)

	require.NoError(t, store.Set("expired", []byte("a"), time.Second))
	require.NoError(t, store.Set("soon", []byte("b"), time.Minute))
	clock.Advance(2 * time.Second)

	require.NoError(t, store.Set("new", []byte("c"), time.Hour))

	// The dead entry was reclaimed; the still-valid one survived
	_, err := store.Get("soon")
	assert.NoError(t, err)
	_, err = store.Get("new")
	assert.NoError(t, err)
}

func TestMemoryStore_DeleteAndClear(t *testing.T) {
	store, _ := newTestStore(t, 10)

	require.NoError(t, store.Set("a", []byte("1"), time.Hour))
	require.NoError(t, store.Set("b", []byte("2"), time.Hour))

	store.Delete("a")
	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is a no-op
	store.Delete("a")

	removed := store.Clear()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Snapshot().TotalItems)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%20)
				_ = store.Set(key, []byte("value"), time.Minute)
				_, _ = store.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Snapshot().TotalItems, 100)
}

func TestMemoryStore_JanitorSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	require.NoError(t, store.Set("key", []byte("value"), 10*time.Millisecond))

	store.StartJanitor(20 * time.Millisecond)
	// Starting twice must not leak a second goroutine
	store.StartJanitor(20 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return store.Snapshot().TotalItems == 0
	}, time.Second, 10*time.Millisecond)

	store.Stop()
	store.Stop() // idempotent
}
