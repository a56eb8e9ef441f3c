package window

import (
	"context"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/ringbuf"
)

// MemoryStore keeps counters in a process-local map guarded by a mutex.
// State is neither persisted nor shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*ringbuf.Ring[time.Time]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*ringbuf.Ring[time.Time])}
}

// Observe implements CounterStore.
func (s *MemoryStore) Observe(_ context.Context, key string, ts time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = ringbuf.New[time.Time](MaxSamples)
		s.buckets[key] = b
	}
	b.Push(ts)
	return s.prune(key, b, ts, window)
}

// Peek implements CounterStore.
func (s *MemoryStore) Peek(_ context.Context, key string, ts time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return 0
	}
	return s.prune(key, b, ts, window)
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// prune must be called with s.mu held.
func (s *MemoryStore) prune(key string, b *ringbuf.Ring[time.Time], ts time.Time, window time.Duration) int {
	cutoff := ts.Add(-window)
	b.Retain(func(t time.Time) bool { return !t.Before(cutoff) })
	n := b.Len()
	if n == 0 {
		delete(s.buckets, key)
	}
	return n
}
