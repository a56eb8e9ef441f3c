// Package cooldown suppresses repeated incident creation per fingerprint for a
// short period after an incident-creating detection.
package cooldown

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
)

// DefaultCapacity bounds the in-memory cache.
const DefaultCapacity = 50_000

// Store tracks fingerprint -> expiry instant.
type Store interface {
	// Active reports whether fingerprint is cooling down at now.
	Active(ctx context.Context, fingerprint string, now time.Time) bool
	// Arm suppresses fingerprint for ttl starting at now.
	Arm(ctx context.Context, fingerprint string, now time.Time, ttl time.Duration)
}

// MemoryStore is a process-local Store bounded by an LRU, so a storm of
// distinct fingerprints evicts the least recently armed ones.
type MemoryStore struct {
	entries *lru.Cache[string, time.Time]
}

// NewMemoryStore creates a MemoryStore holding at most capacity fingerprints.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, _ := lru.New[string, time.Time](capacity)
	return &MemoryStore{entries: c}
}

// Active implements Store. Expired entries are evicted on read.
func (s *MemoryStore) Active(_ context.Context, fingerprint string, now time.Time) bool {
	until, ok := s.entries.Get(fingerprint)
	if !ok {
		return false
	}
	if !now.Before(until) {
		s.entries.Remove(fingerprint)
		return false
	}
	return true
}

// Arm implements Store.
func (s *MemoryStore) Arm(_ context.Context, fingerprint string, now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.entries.Add(fingerprint, now.Add(ttl))
}

// Len returns the number of tracked fingerprints, expired or not.
func (s *MemoryStore) Len() int { return s.entries.Len() }

// RedisStore keeps cooldowns as expiring keys shared by all instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore. prefix namespaces all keys.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix + "cooldown:", logger: logger}
}

// Active implements Store. Expiry is enforced by Redis TTLs; now is unused.
func (s *RedisStore) Active(ctx context.Context, fingerprint string, _ time.Time) bool {
	n, err := s.client.Exists(ctx, s.prefix+fingerprint).Result()
	if err != nil {
		metrics.StateErrors.WithLabelValues("redis_cooldown", "active").Inc()
		s.logger.Warn("cooldown backend error", "op", "active", "fingerprint", fingerprint, "err", err)
		return false
	}
	return n > 0
}

// Arm implements Store. A non-positive ttl is a no-op.
func (s *RedisStore) Arm(ctx context.Context, fingerprint string, now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	until := now.Add(ttl).UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.prefix+fingerprint, until, ttl).Err(); err != nil {
		metrics.StateErrors.WithLabelValues("redis_cooldown", "arm").Inc()
		s.logger.Warn("cooldown backend error", "op", "arm", "fingerprint", fingerprint, "err", err)
	}
}
