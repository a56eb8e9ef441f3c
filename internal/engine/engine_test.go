package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/cooldown"
	"github.com/gyaneshwarpardhi/hrguard/internal/engine"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyStore fails Create while failing is set and can slow it down.
type flakyStore struct {
	*incident.MemoryStore
	mu      sync.Mutex
	failing bool
	delay   time.Duration
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStore) Create(ctx context.Context, inc *incident.Incident, actor string) (*incident.Incident, error) {
	s.mu.Lock()
	failing, delay := s.failing, s.delay
	s.mu.Unlock()
	time.Sleep(delay)
	if failing {
		return nil, errors.New("database is locked")
	}
	return s.MemoryStore.Create(ctx, inc, actor)
}

type fixture struct {
	eng       *engine.Engine
	incidents *flakyStore
	retries   *retry.MemoryStore
	clock     *clock
	cancel    context.CancelFunc
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.EventWorkers = 2
	cfg.Engine.QueueDepth = 16
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	c := &clock{now: t0}
	store := &flakyStore{MemoryStore: incident.NewMemoryStore()}
	resolver := incident.NewResolver(store, cooldown.NewMemoryStore(100), engine.ResolverSettings(cfg),
		incident.WithClock(c.Now))
	rs := retry.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, cfg, engine.Deps{
		Counters:   window.NewMemoryStore(),
		Resolver:   resolver,
		RetryStore: rs,
		Clock:      c.Now,
	})
	t.Cleanup(func() {
		eng.Shutdown()
		cancel()
	})
	return &fixture{eng: eng, incidents: store, retries: rs, clock: c, cancel: cancel}
}

func loginFailure(id, actor string, at time.Time) *event.AuditEvent {
	return &event.AuditEvent{
		ID:           id,
		Module:       "authentication",
		ActivityName: "Login Attempt",
		Status:       "failed",
		OccurredAt:   at,
		PerformedBy:  actor,
		SourceIP:     "10.0.0.9",
		Metadata:     map[string]interface{}{"reason": "invalid password"},
	}
}

func TestProcessEvent_BruteForceCreatesThenMerges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var res *engine.Result
	for i := 0; i < 5; i++ {
		res = f.eng.ProcessEvent(ctx, loginFailure(fmt.Sprintf("e%d", i), fmt.Sprintf("user%d@corp.com", i), t0.Add(time.Duration(i)*time.Minute)))
	}
	require.True(t, res.Detected)
	require.NotNil(t, res.Incident)
	assert.False(t, res.Duplicate)
	assert.Equal(t, rules.RuleAuthBruteForce, res.Finding.RuleID)
	assert.Equal(t, rules.SeverityHigh, res.Incident.Severity)
	assert.Equal(t, 5, res.Finding.ObservedCount)
	assert.Equal(t, "10.0.0.9", res.Finding.Subject.SourceIP)

	sixth := f.eng.ProcessEvent(ctx, loginFailure("e5", "user5@corp.com", t0.Add(5*time.Minute)))
	require.True(t, sixth.Detected)
	assert.True(t, sixth.Duplicate)
	assert.True(t, sixth.Consolidated)
	assert.Equal(t, res.Incident.ID, sixth.Incident.ID)
	assert.Equal(t, 2, sixth.Incident.OccurrenceCount)

	all, err := f.incidents.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessEvent_BelowThresholdIsNotDetected(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 4; i++ {
		res := f.eng.ProcessEvent(context.Background(), loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0))
		assert.False(t, res.Detected)
		assert.Nil(t, res.Incident)
	}
}

func TestProcessEvent_Filters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	skip := loginFailure("s1", "a@corp.com", t0)
	skip.Metadata["skip_security_detection"] = true
	assert.Equal(t, "skip_flag", f.eng.ProcessEvent(ctx, skip).Skipped)

	own := loginFailure("s2", "a@corp.com", t0)
	own.Module = "Security_Incidents"
	assert.Equal(t, "incident_module", f.eng.ProcessEvent(ctx, own).Skipped)

	sys := loginFailure("s3", "Security-Automation@hrguard.local", t0)
	assert.Equal(t, "system_actor", f.eng.ProcessEvent(ctx, sys).Skipped)
}

func TestProcessEvent_FailureQueuesThenDrainRecovers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.incidents.setFailing(true)

	var res *engine.Result
	for i := 0; i < 5; i++ {
		res = f.eng.ProcessEvent(ctx, loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0))
	}
	require.True(t, res.Failed)
	assert.True(t, res.QueuedForRetry)
	assert.Contains(t, res.Error, "database is locked")

	pending, err := f.retries.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	f.incidents.setFailing(false)
	early, err := f.eng.DrainRetryQueue(ctx, retry.DrainRequest{Reason: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 0, early.DueCount, "not due before the first backoff elapses")

	f.clock.Advance(31 * time.Second)
	out, err := f.eng.DrainRetryQueue(ctx, retry.DrainRequest{Reason: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ProcessedCount)

	all, err := f.incidents.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rules.RuleAuthBruteForce, all[0].RuleID)

	pending, err = f.retries.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestProcessEvent_FailureWithRetryDisabled(t *testing.T) {
	off := false
	f := newFixture(t, func(c *config.Config) { c.Retry.Enabled = &off })
	f.incidents.setFailing(true)

	var res *engine.Result
	for i := 0; i < 5; i++ {
		res = f.eng.ProcessEvent(context.Background(), loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0))
	}
	assert.True(t, res.Failed)
	assert.False(t, res.QueuedForRetry)
	pending, _ := f.retries.Pending(context.Background())
	assert.Zero(t, pending)
}

func TestProcessSync(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.eng.ProcessSync(context.Background(), loginFailure("e1", "a@corp.com", t0))
	require.NoError(t, err)
	assert.Equal(t, "e1", res.EventID)
	assert.False(t, res.Detected)
}

func TestSubmit_AfterShutdownIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Submit(loginFailure("e1", "a@corp.com", t0)))
	f.eng.Shutdown()
	err := f.eng.Submit(loginFailure("e2", "a@corp.com", t0))
	assert.ErrorIs(t, err, engine.ErrQueueFull)
}

func TestReconfigure_DisablesRule(t *testing.T) {
	f := newFixture(t, nil)
	assert.Len(t, f.eng.Pipeline().Rules(), 7)

	cfg := config.Default()
	off := false
	cfg.Detection.Rules.AuthFailureSpike.Enabled = &off
	f.eng.Reconfigure(cfg)

	assert.Len(t, f.eng.Pipeline().Rules(), 6)
	var res *engine.Result
	for i := 0; i < 6; i++ {
		res = f.eng.ProcessEvent(context.Background(), loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0))
	}
	assert.False(t, res.Detected)
}

func TestStartScheduler_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.StartScheduler(context.Background(), "not a cron spec")
	assert.Error(t, err)

	stop, err := f.eng.StartScheduler(context.Background(), "@every 1h")
	require.NoError(t, err)
	stop()
}

func TestProcessSync_ConcurrentSameKeyOpensOneIncident(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		res, err := f.eng.ProcessSync(ctx, loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0))
		require.NoError(t, err)
		require.False(t, res.Detected)
	}
	f.incidents.mu.Lock()
	f.incidents.delay = 50 * time.Millisecond
	f.incidents.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range []string{"e4", "e5"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.eng.ProcessSync(ctx, loginFailure(id, "a@corp.com", t0))
			if assert.NoError(t, err) {
				assert.True(t, res.Detected)
				assert.False(t, res.Failed)
			}
		}(id)
	}
	wg.Wait()

	all, err := f.incidents.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].OccurrenceCount)
}

func TestShutdown_ProcessesQueuedEventsAfterCancel(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.eng.Submit(loginFailure(fmt.Sprintf("e%d", i), "a@corp.com", t0)))
	}
	f.cancel()
	f.eng.Shutdown()

	all, err := f.incidents.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rules.RuleAuthBruteForce, all[0].RuleID)
}
