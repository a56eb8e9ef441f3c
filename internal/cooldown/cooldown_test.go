package cooldown_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/cooldown"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMemoryStore_ArmAndExpire(t *testing.T) {
	s := cooldown.NewMemoryStore(10)
	ctx := context.Background()

	assert.False(t, s.Active(ctx, "fp", now))

	s.Arm(ctx, "fp", now, 30*time.Minute)
	assert.True(t, s.Active(ctx, "fp", now.Add(29*time.Minute)))
	assert.False(t, s.Active(ctx, "fp", now.Add(30*time.Minute)))
	assert.Equal(t, 0, s.Len(), "expired entry is evicted on read")
}

func TestMemoryStore_RearmExtends(t *testing.T) {
	s := cooldown.NewMemoryStore(10)
	ctx := context.Background()

	s.Arm(ctx, "fp", now, 10*time.Minute)
	s.Arm(ctx, "fp", now.Add(8*time.Minute), 10*time.Minute)
	assert.True(t, s.Active(ctx, "fp", now.Add(15*time.Minute)))
}

func TestMemoryStore_ZeroTTLIsNoop(t *testing.T) {
	s := cooldown.NewMemoryStore(10)
	s.Arm(context.Background(), "fp", now, 0)
	assert.False(t, s.Active(context.Background(), "fp", now))
}

func TestMemoryStore_CapacityEvictsOldest(t *testing.T) {
	s := cooldown.NewMemoryStore(2)
	ctx := context.Background()

	s.Arm(ctx, "a", now, time.Hour)
	s.Arm(ctx, "b", now, time.Hour)
	s.Arm(ctx, "c", now, time.Hour)

	assert.False(t, s.Active(ctx, "a", now))
	assert.True(t, s.Active(ctx, "b", now))
	assert.True(t, s.Active(ctx, "c", now))
}

func TestRedisStore_ArmAndExpire(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := cooldown.NewRedisStore(client, "test:", nil)
	ctx := context.Background()

	assert.False(t, s.Active(ctx, "fp", now))
	s.Arm(ctx, "fp", now, 30*time.Minute)
	assert.True(t, s.Active(ctx, "fp", now))
	assert.True(t, mr.Exists("test:cooldown:fp"))

	mr.FastForward(31 * time.Minute)
	assert.False(t, s.Active(ctx, "fp", now))
}

func TestRedisStore_BackendErrorFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := cooldown.NewRedisStore(client, "test:", nil)

	mr.Close()
	s.Arm(context.Background(), "fp", now, time.Minute)
	assert.False(t, s.Active(context.Background(), "fp", now))
}
