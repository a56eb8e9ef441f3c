package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// Replayer re-enters the detection workflow with the stored finding forced.
type Replayer interface {
	Replay(ctx context.Context, r *Record) error
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, r *Record) error

func (f ReplayFunc) Replay(ctx context.Context, r *Record) error { return f(ctx, r) }

// Options tunes the Manager.
type Options struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 1800 * time.Second
	}
	return o
}

// DrainRequest parameterizes one drain pass.
type DrainRequest struct {
	Reason    string `json:"reason"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	ProcessedCount  int `json:"processed_count"`
	DeadLetterCount int `json:"dead_letter_count"`
	FailedCount     int `json:"failed_count"`
	DueCount        int `json:"due_count"`
}

// Manager owns the retry queue state machine.
type Manager struct {
	store    Store
	replayer Replayer
	opts     atomic.Pointer[Options]
	group    singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(store Store, replayer Replayer, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		replayer: replayer,
		logger:   logger.With("component", "retry"),
		now:      time.Now,
	}
	m.SetOptions(opts)
	return m
}

// SetOptions swaps the tunables (used on config hot-reload).
func (m *Manager) SetOptions(opts Options) {
	o := opts.withDefaults()
	m.opts.Store(&o)
}

// SetClock overrides time.Now.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Enqueue persists a failed workflow as attempt 1, due after backoff(1).
func (m *Manager) Enqueue(ctx context.Context, source string, ev *event.AuditEvent, f *rules.Finding, fp, key string, cause error) (*Record, error) {
	o := m.opts.Load()
	now := m.now().UTC()
	r := &Record{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		Source:         source,
		Attempts:       1,
		MaxAttempts:    o.MaxAttempts,
		NextAttemptAt:  now.Add(Backoff(1, o.BaseBackoff, o.MaxBackoff)),
		Fingerprint:    fp,
		CorrelationKey: key,
		Event:          ev,
		Finding:        f,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cause != nil {
		r.LastError = cause.Error()
	}
	if err := m.store.Add(ctx, r); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}
	metrics.RetryEnqueued.Inc()
	m.logger.Info("workflow queued for retry", "record_id", r.ID, "fingerprint", fp,
		"next_attempt_at", r.NextAttemptAt, "err", r.LastError)
	return r, nil
}

// Drain replays due records. Concurrent callers share one in-flight pass and
// all receive its result.
func (m *Manager) Drain(ctx context.Context, req DrainRequest) (DrainResult, error) {
	v, err, _ := m.group.Do("drain", func() (interface{}, error) {
		return m.drain(context.WithoutCancel(ctx), req)
	})
	if err != nil {
		return DrainResult{}, err
	}
	return v.(DrainResult), nil
}

func (m *Manager) drain(ctx context.Context, req DrainRequest) (DrainResult, error) {
	o := m.opts.Load()
	batch := req.BatchSize
	if batch <= 0 {
		batch = o.BatchSize
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}
	metrics.Drains.WithLabelValues(reason).Inc()

	var res DrainResult
	due, err := m.store.Due(ctx, m.now().UTC(), batch)
	if err != nil {
		return res, fmt.Errorf("query due retry records: %w", err)
	}
	res.DueCount = len(due)

	for _, r := range due {
		switch m.process(ctx, r, o) {
		case outcomeProcessed:
			res.ProcessedCount++
		case outcomeDeadLettered:
			res.DeadLetterCount++
		default:
			res.FailedCount++
		}
	}
	if res.DueCount > 0 {
		m.logger.Info("retry drain finished", "reason", reason, "due", res.DueCount,
			"processed", res.ProcessedCount, "failed", res.FailedCount, "dead_lettered", res.DeadLetterCount)
	}
	return res, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeRescheduled
	outcomeDeadLettered
	outcomeFailed
)

func (m *Manager) process(ctx context.Context, r *Record, o *Options) outcome {
	log := m.logger.With("record_id", r.ID, "fingerprint", r.Fingerprint)

	if err := r.Validate(); err != nil {
		r.LastError = err.Error()
		return m.deadLetter(ctx, log, r, ReasonMalformed)
	}

	attempt := r.Attempts + 1
	err := m.replay(ctx, r)
	now := m.now().UTC()
	if err == nil {
		if derr := m.store.Delete(ctx, r.ID); derr != nil {
			log.Error("delete replayed retry record", "err", derr)
		}
		metrics.RetryOutcomes.WithLabelValues("processed").Inc()
		log.Info("retry replay succeeded", "attempt", attempt)
		return outcomeProcessed
	}

	r.LastError = err.Error()
	r.UpdatedAt = now
	if errors.Is(err, ErrMalformedRecord) {
		return m.deadLetter(ctx, log, r, ReasonMalformed)
	}
	r.Attempts = attempt
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.MaxAttempts
	}
	if attempt >= maxAttempts {
		return m.deadLetter(ctx, log, r, ReasonExhausted)
	}

	r.NextAttemptAt = now.Add(Backoff(attempt, o.BaseBackoff, o.MaxBackoff))
	if uerr := m.store.Update(ctx, r); uerr != nil {
		log.Error("reschedule retry record", "err", uerr)
	}
	metrics.RetryOutcomes.WithLabelValues("rescheduled").Inc()
	log.Warn("retry replay failed", "attempt", attempt, "next_attempt_at", r.NextAttemptAt, "err", err)
	return outcomeRescheduled
}

// replay shields the drain from a panicking workflow.
func (m *Manager) replay(ctx context.Context, r *Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("replay panicked: %v", p)
		}
	}()
	return m.replayer.Replay(ctx, r)
}

// deadLetter moves r out of the queue. When the move fails the record stays
// queued with its updated attempt count and error, and the pass counts it as failed.
func (m *Manager) deadLetter(ctx context.Context, log *slog.Logger, r *Record, reason string) outcome {
	if err := m.store.MoveToDeadLetter(ctx, r, reason, m.now().UTC()); err != nil {
		log.Error("move retry record to dead letter", "reason", reason, "err", err)
		if uerr := m.store.Update(ctx, r); uerr != nil {
			log.Error("save retry record after failed dead-letter move", "err", uerr)
		}
		metrics.RetryOutcomes.WithLabelValues("dead_letter_failed").Inc()
		return outcomeFailed
	}
	metrics.DeadLettered.WithLabelValues(reason).Inc()
	metrics.RetryOutcomes.WithLabelValues("dead_lettered").Inc()
	log.Warn("retry record dead-lettered", "reason", reason, "attempts", r.Attempts, "err", r.LastError)
	return outcomeDeadLettered
}
