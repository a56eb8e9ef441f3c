// Package engine runs audit events through detection and consolidation.
// Events are processed detached from their producer on a bounded worker
// pool; workflow failures land in the retry queue instead of propagating.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/fingerprint"
	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

// ErrQueueFull is returned when the worker queue cannot take more events.
var ErrQueueFull = errors.New("event queue full")

// Result is the outcome of processing a single event.
type Result struct {
	EventID         string                    `json:"event_id"`
	Skipped         string                    `json:"skipped,omitempty"`
	Detected        bool                      `json:"detected"`
	Duplicate       bool                      `json:"duplicate"`
	Consolidated    bool                      `json:"consolidated,omitempty"`
	Finding         *rules.Finding            `json:"finding,omitempty"`
	Incident        *incident.Incident        `json:"incident,omitempty"`
	Fingerprint     string                    `json:"fingerprint,omitempty"`
	CorrelationKey  string                    `json:"correlation_key,omitempty"`
	Recipients      []string                  `json:"recipients,omitempty"`
	DeliverySummary *incident.DeliverySummary `json:"delivery_summary,omitempty"`
	Failed          bool                      `json:"failed,omitempty"`
	QueuedForRetry  bool                      `json:"queued_for_retry,omitempty"`
	Error           string                    `json:"error,omitempty"`
	DurationMs      int64                     `json:"duration_ms"`
}

// Deps are the collaborators the engine wires together.
type Deps struct {
	Counters   window.CounterStore
	Resolver   *incident.Resolver
	RetryStore retry.Store
	Logger     *slog.Logger
	// Clock overrides time.Now for detection and retry scheduling.
	Clock func() time.Time
}

// Engine processes audit events through the rule pipeline and resolver.
type Engine struct {
	pipeline  atomic.Pointer[rules.Pipeline]
	detection atomic.Pointer[config.DetectionConf]
	retryOn   atomic.Bool

	counters window.CounterStore
	resolver *incident.Resolver
	retries  *retry.Manager
	pool     *workerPool[*eventWork]
	conf     config.EngineConf
	logger   *slog.Logger
	now      func() time.Time
}

type eventWork struct {
	ev      *event.AuditEvent
	resultC chan *Result
}

// New creates an Engine from cfg and starts its worker pool.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		counters: deps.Counters,
		resolver: deps.Resolver,
		conf:     cfg.Engine,
		logger:   logger.With("component", "engine"),
		now:      now,
	}
	e.retries = retry.NewManager(deps.RetryStore, e, retryOptions(cfg.Retry), logger)
	e.retries.SetClock(now)
	e.Reconfigure(cfg)

	e.pool = newWorkerPool[*eventWork](ctx, cfg.Engine.EventWorkers, cfg.Engine.QueueDepth, e.logger,
		func(ctx context.Context, w *eventWork) {
			res := e.ProcessEvent(ctx, w.ev)
			if w.resultC != nil {
				w.resultC <- res
			}
		})
	return e
}

func retryOptions(c config.RetryConf) retry.Options {
	return retry.Options{
		BatchSize:   c.BatchSize,
		MaxAttempts: c.MaxAttempts,
		BaseBackoff: c.BaseBackoff(),
		MaxBackoff:  c.MaxBackoff(),
	}
}

// Reconfigure rebuilds the rule pipeline and swaps consolidation and retry
// tunables (used on hot-reload).
// Counter state is kept.
func (e *Engine) Reconfigure(cfg *config.Config) {
	det := cfg.Detection
	e.detection.Store(&det)
	e.pipeline.Store(rules.Build(det, e.counters))
	e.resolver.SetSettings(ResolverSettings(cfg))
	e.retries.SetOptions(retryOptions(cfg.Retry))
	e.retryOn.Store(cfg.Retry.IsEnabled())
}

// ResolverSettings derives consolidation tunables from cfg.
func ResolverSettings(cfg *config.Config) incident.Settings {
	d := cfg.Detection
	return incident.Settings{
		SystemActor:   d.SystemActor,
		BaseURL:       d.BaseURL,
		Module:        d.IncidentModule,
		Cooldown:      d.Cooldown(),
		MaxRecipients: d.MaxRecipients,
	}
}

// Pipeline returns the active rule pipeline.
func (e *Engine) Pipeline() *rules.Pipeline { return e.pipeline.Load() }

// Retries returns the retry manager.
func (e *Engine) Retries() *retry.Manager { return e.retries }

// Submit enqueues ev for detached processing. The caller never waits on
// detection; ErrQueueFull signals back-pressure.
func (e *Engine) Submit(ev *event.AuditEvent) error {
	metrics.EventsReceived.Inc()
	if !e.pool.Submit(&eventWork{ev: ev}) {
		metrics.EventsDropped.Inc()
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return nil
}

// ProcessSync runs ev through the worker pool and waits for its result.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.AuditEvent) (*Result, error) {
	metrics.EventsReceived.Inc()
	resultC := make(chan *Result, 1)
	if !e.pool.Submit(&eventWork{ev: ev, resultC: resultC}) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("event processing timeout after %v", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueUtilization returns queue used / capacity (0 to 1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// ProcessEvent filters ev, evaluates the pipeline and consolidates any
// finding. It never returns an error: workflow failures are queued for retry
// and reported on the result.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.AuditEvent) *Result {
	start := time.Now()
	res := &Result{EventID: ev.ID}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		metrics.EventProcessingDuration.Observe(float64(res.DurationMs))
	}()

	if reason := e.skipReason(ev); reason != "" {
		metrics.EventsFiltered.WithLabelValues(reason).Inc()
		res.Skipped = reason
		return res
	}

	f := e.pipeline.Load().Evaluate(ctx, ev, e.now())
	if f == nil {
		return res
	}
	metrics.FindingsTotal.WithLabelValues(f.RuleID, string(f.Severity)).Inc()
	fp, key := fingerprint.ForFinding(f)
	res.Detected = true
	res.Finding = f
	res.Fingerprint = fp
	res.CorrelationKey = key

	log := e.logger.With("event_id", ev.ID, "rule_id", f.RuleID, "fingerprint", fp)
	log.Info("finding detected", "severity", f.Severity, "observed", f.ObservedCount)

	resolution, err := e.resolve(ctx, f, ev, fp, key)
	if err != nil {
		metrics.WorkflowFailures.Inc()
		res.Failed = true
		res.Error = err.Error()
		log.Error("detection workflow failed", "err", err)
		if e.retryOn.Load() {
			if _, qerr := e.retries.Enqueue(ctx, "engine", ev, f, fp, key, err); qerr != nil {
				log.Error("queue workflow for retry", "err", qerr)
			} else {
				res.QueuedForRetry = true
			}
		}
		return res
	}

	switch resolution.Outcome {
	case incident.OutcomeSuppressed:
		res.Duplicate = true
	case incident.OutcomeMerged:
		res.Duplicate = true
		res.Consolidated = true
		res.Incident = resolution.Incident
	case incident.OutcomeCreated:
		res.Incident = resolution.Incident
		res.Recipients = resolution.Recipients
		res.DeliverySummary = resolution.Delivery
	}
	return res
}

// resolve shields the caller from a panicking collaborator.
func (e *Engine) resolve(ctx context.Context, f *rules.Finding, ev *event.AuditEvent, fp, key string) (res *incident.Resolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consolidation panicked: %v", r)
		}
	}()
	return e.resolver.Resolve(ctx, f, ev, fp, key)
}

// Replay implements retry.Replayer: it re-enters consolidation with the
// stored finding, bypassing rule evaluation.
func (e *Engine) Replay(ctx context.Context, r *retry.Record) error {
	res, err := e.resolve(ctx, r.Finding, r.Event, r.Fingerprint, r.CorrelationKey)
	if err != nil {
		return err
	}
	e.logger.Info("retry replayed", "record_id", r.ID, "event_id", r.Event.ID, "outcome", res.Outcome)
	return nil
}

// DrainRetryQueue runs one single-flight drain pass.
func (e *Engine) DrainRetryQueue(ctx context.Context, req retry.DrainRequest) (retry.DrainResult, error) {
	return e.retries.Drain(ctx, req)
}

// skipReason returns why ev bypasses detection, or "".
func (e *Engine) skipReason(ev *event.AuditEvent) string {
	det := e.detection.Load()
	switch {
	case ev.MetaBool("skip_security_detection", "skip_anomaly_detection"):
		return "skip_flag"
	case det.IncidentModule != "" && strings.EqualFold(ev.Module, det.IncidentModule):
		return "incident_module"
	case det.SystemActor != "" && strings.EqualFold(strings.TrimSpace(ev.PerformedBy), det.SystemActor):
		return "system_actor"
	}
	return ""
}

// Shutdown stops accepting events and waits for every queued one to finish,
// including after the context passed to New was cancelled.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
