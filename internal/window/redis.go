package window

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
)

// RedisStore backs counters with one sorted set per key (score = unix ms), so
// several service instances observe the same windows.
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
	return &RedisStore{client: client, prefix: prefix + "win:", logger: logger}
}

// Observe implements CounterStore.
func (s *RedisStore) Observe(ctx context.Context, key string, ts time.Time, window time.Duration) int {
	k := s.prefix + key
	ms := ts.UnixMilli()
	member := fmt.Sprintf("%d:%s", ms, uuid.NewString())

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(ms), Member: member})
	card := s.prunePipe(ctx, pipe, k, ts, window)
	pipe.PExpire(ctx, k, ttl(window))
	if _, err := pipe.Exec(ctx); err != nil {
		s.fail("observe", key, err)
		return 0
	}
	return int(card.Val())
}

// Peek implements CounterStore.
func (s *RedisStore) Peek(ctx context.Context, key string, ts time.Time, window time.Duration) int {
	k := s.prefix + key

	pipe := s.client.TxPipeline()
	card := s.prunePipe(ctx, pipe, k, ts, window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.fail("peek", key, err)
		return 0
	}
	return int(card.Val())
}

func (s *RedisStore) prunePipe(ctx context.Context, pipe redis.Pipeliner, k string, ts time.Time, window time.Duration) *redis.IntCmd {
	cutoff := ts.Add(-window).UnixMilli()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.ZRemRangeByRank(ctx, k, 0, -(MaxSamples + 1))
	return pipe.ZCard(ctx, k)
}

func (s *RedisStore) fail(op, key string, err error) {
	metrics.StateErrors.WithLabelValues("redis_window", op).Inc()
	s.logger.Warn("window counter backend error", "op", op, "key", key, "err", err)
}

func ttl(window time.Duration) time.Duration {
	if window < time.Second {
		return time.Second
	}
	return window
}
