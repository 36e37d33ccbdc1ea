package cache

import (
	"fmt"
	"sync"
	"time"
)

// MemorySnapshot is a point-in-time view of the fast tier's contents
type MemorySnapshot struct {
	TotalItems   int `json:"total_items"`
	ValidItems   int `json:"valid_items"`
	ExpiredItems int `json:"expired_items"`
	MaxItems     int `json:"max_items"`
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
	setAt     time.Time
}

// MemoryStore is the bounded in-process fast tier. Entries carry their own
// TTL; expired entries are logically absent and purged lazily on access.
// When the store is full, the entry with the nearest expiry is evicted
// before insertion (ties broken by least recently set), so entries with
// more remaining useful life survive.
//
// All operations are safe for concurrent use. A get followed by a set is
// not a transaction; concurrent writes to the same key are idempotent
// overwrites.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]*memoryEntry
	maxItems int

	janitorStop chan struct{}
	janitorOnce sync.Once

	// now is swapped in tests to drive expiry deterministically
	now func() time.Time
}

// NewMemoryStore creates a fast tier bounded to maxItems entries
func NewMemoryStore(maxItems int) (*MemoryStore, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("memory store: max items must be positive, got %d", maxItems)
	}
	return &MemoryStore{
		items:    make(map[string]*memoryEntry),
		maxItems: maxItems,
		now:      time.Now,
	}, nil
}

// Get returns the value for key, or ErrCacheMiss. An expired entry is
// removed as a side effect and reported as a miss.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if s.now().After(entry.expiresAt) {
		delete(s.items, key)
		return nil, ErrCacheMiss
	}
	// Callers get a copy; mutating it must not corrupt the cached entry
	return append([]byte(nil), entry.data...), nil
}

// Set stores value under key with the given TTL, evicting first if the
// store is at capacity. A non-positive TTL is a programmer error.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("memory store: ttl must be positive, got %v", ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists && len(s.items) >= s.maxItems {
		s.evictLocked()
	}

	now := s.now()
	s.items[key] = &memoryEntry{
		// Stored as a copy so later mutation of the caller's slice
		// cannot reach into the cache
		data:      append([]byte(nil), value...),
		expiresAt: now.Add(ttl),
		setAt:     now,
	}
	return nil
}

// evictLocked frees one slot: expired entries first, otherwise the entry
// with the nearest expiry, ties broken by earliest setAt. Caller holds mu.
func (s *MemoryStore) evictLocked() {
	now := s.now()
	removed := false
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
			removed = true
		}
	}
	if removed && len(s.items) < s.maxItems {
		return
	}

	var victim string
	var victimEntry *memoryEntry
	for key, entry := range s.items {
		if victimEntry == nil ||
			entry.expiresAt.Before(victimEntry.expiresAt) ||
			(entry.expiresAt.Equal(victimEntry.expiresAt) && entry.setAt.Before(victimEntry.setAt)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(s.items, victim)
	}
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Clear empties the store and returns the number of entries removed
func (s *MemoryStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	s.items = make(map[string]*memoryEntry)
	return n
}

// Snapshot reports current item counts. Expired-but-unpurged entries are
// counted separately; they still occupy memory until swept.
func (s *MemoryStore) Snapshot() MemorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap := MemorySnapshot{
		TotalItems: len(s.items),
		MaxItems:   s.maxItems,
	}
	for _, entry := range s.items {
		if now.After(entry.expiresAt) {
			snap.ExpiredItems++
		} else {
			snap.ValidItems++
		}
	}
	return snap
}

// StartJanitor begins a background sweep of expired entries. The sweep is
// an optimization only; correctness never depends on it.
func (s *MemoryStore) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.janitorStop != nil {
		s.mu.Unlock()
		return
	}
	s.janitorStop = make(chan struct{})
	stop := s.janitorStop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the janitor if running. Safe to call multiple times.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	stop := s.janitorStop
	s.mu.Unlock()
	if stop == nil {
		return
	}
	s.janitorOnce.Do(func() { close(stop) })
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
		}
	}
}
