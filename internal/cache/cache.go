// Package cache provides small process-local state containers used by the
// OAuth flow and the auto-reply pipeline: a TTL map with one-time reads, a
// bounded insertion-ordered set, and a per-key timestamp clock.
//
// All types are safe for concurrent use. They are intentionally non-durable:
// a process restart clears them, which the surrounding components treat as an
// accepted operational tradeoff (the durable message store still prevents
// duplicate rows).
package cache

import (
	"container/list"
	"sync"
	"time"
)

// TTLStore is a mutex-guarded map of string keys to values with a per-entry
// time-to-live. Entries are removed either by Take (one-time read) or by the
// opportunistic sweep performed on every Put; there is no background timer.
type TTLStore[V any] struct {
	mu      sync.Mutex
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLStore returns an empty TTLStore.
func NewTTLStore[V any]() *TTLStore[V] {
	return &TTLStore[V]{entries: make(map[string]ttlEntry[V])}
}

// Put stores value under key with the given lifetime, replacing any previous
// entry, and sweeps expired entries while it holds the lock.
func (s *TTLStore[V]) Put(key string, value V, ttl time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = ttlEntry[V]{value: value, expiresAt: now.Add(ttl)}
}

// Take removes and returns the entry for key. It reports false when the key
// is absent or expired; an expired entry is deleted on lookup regardless, so
// a key can never be taken twice.
func (s *TTLStore[V]) Take(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.entries, key)
	if time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of entries currently held, including any that have
// expired but not yet been swept.
func (s *TTLStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// BoundedSet is an insertion-ordered string set with a size cap. Adding a key
// beyond the cap evicts the oldest keys first.
type BoundedSet struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = oldest
	index map[string]*list.Element
}

// NewBoundedSet returns a set holding at most cap keys. Caps below 1 are
// coerced to 1.
func NewBoundedSet(cap int) *BoundedSet {
	if cap < 1 {
		cap = 1
	}
	return &BoundedSet{
		cap:   cap,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Add inserts key, evicting the oldest keys if the cap is exceeded. Adding a
// key already present is a no-op and does not refresh its position.
func (s *BoundedSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = s.order.PushBack(key)
	for s.order.Len() > s.cap {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}

// Has reports whether key is in the set.
func (s *BoundedSet) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Len returns the current number of keys.
func (s *BoundedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// ReplyClock tracks the last time a reply was sent per key (chat). It backs
// the per-chat cooldown that keeps the webhook and scheduler paths from
// double-sending into the same conversation.
type ReplyClock struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewReplyClock returns an empty ReplyClock.
func NewReplyClock() *ReplyClock {
	return &ReplyClock{last: make(map[string]time.Time)}
}

// Mark records now as the last reply time for key.
func (c *ReplyClock) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = time.Now()
}

// Within reports whether a reply was recorded for key within the given
// window. An unknown key is never within any window.
func (c *ReplyClock) Within(key string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[key]
	if !ok {
		return false
	}
	return time.Since(t) < window
}
