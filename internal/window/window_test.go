package window_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRedisStore(t *testing.T) *window.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return window.NewRedisStore(client, "test:", nil)
}

func stores(t *testing.T) map[string]window.CounterStore {
	return map[string]window.CounterStore{
		"memory": window.NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestCounterStore_ObserveCountsWithinWindow(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := 10 * time.Minute

			for i := 0; i < 4; i++ {
				got := s.Observe(ctx, "k", base.Add(time.Duration(i)*time.Minute), w)
				assert.Equal(t, i+1, got)
			}
			// 14 minutes after the first sample: samples at 0..3 are older than 4m cutoff.
			got := s.Observe(ctx, "k", base.Add(14*time.Minute), w)
			assert.Equal(t, 1, got)
		})
	}
}

func TestCounterStore_WindowBoundaryIsInclusive(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := 10 * time.Minute

			s.Observe(ctx, "k", base, w)
			assert.Equal(t, 2, s.Observe(ctx, "k", base.Add(w), w))
			assert.Equal(t, 1, s.Peek(ctx, "k", base.Add(w+time.Millisecond), w))
		})
	}
}

func TestCounterStore_PeekDoesNotAppend(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := time.Minute

			assert.Equal(t, 0, s.Peek(ctx, "absent", base, w))
			s.Observe(ctx, "k", base, w)
			assert.Equal(t, 1, s.Peek(ctx, "k", base, w))
			assert.Equal(t, 1, s.Peek(ctx, "k", base, w))
		})
	}
}

func TestCounterStore_KeysAreIndependent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := time.Minute

			s.Observe(ctx, "a", base, w)
			s.Observe(ctx, "a", base, w)
			assert.Equal(t, 1, s.Observe(ctx, "b", base, w))
			assert.Equal(t, 2, s.Peek(ctx, "a", base, w))
		})
	}
}

func TestCounterStore_CapsAtMaxSamples(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := time.Hour

			var got int
			for i := 0; i < window.MaxSamples+20; i++ {
				got = s.Observe(ctx, "hot", base.Add(time.Duration(i)*time.Millisecond), w)
			}
			assert.Equal(t, window.MaxSamples, got)
		})
	}
}

func TestMemoryStore_DropsEmptyKeys(t *testing.T) {
	s := window.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Observe(ctx, fmt.Sprintf("k%d", i), base, time.Minute)
	}
	assert.Equal(t, 3, s.Len())

	for i := 0; i < 3; i++ {
		s.Peek(ctx, fmt.Sprintf("k%d", i), base.Add(time.Hour), time.Minute)
	}
	assert.Equal(t, 0, s.Len())
}

func TestRedisStore_BackendErrorFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := window.NewRedisStore(client, "test:", nil)

	mr.Close()
	assert.Equal(t, 0, s.Observe(context.Background(), "k", base, time.Minute))
}
