package incident

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/hrguard/internal/cooldown"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
	"github.com/gyaneshwarpardhi/hrguard/internal/ringbuf"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// Outcome is the consolidation decision for a finding.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeMerged     Outcome = "merged"
	OutcomeSuppressed Outcome = "suppressed"
)

// Resolution is the result of Resolver.Resolve.
type Resolution struct {
	Outcome    Outcome
	Incident   *Incident
	Recipients []string
	Delivery   *DeliverySummary
}

// Settings tunes the resolver.
type Settings struct {
	SystemActor   string
	BaseURL       string
	Module        string
	Cooldown      time.Duration
	MaxRecipients int
}

// lockStripes is the number of mutexes consolidation is sharded over.
const lockStripes = 64

// Resolver decides create vs. merge vs. suppress. Resolve calls for the same
// correlation key are serialized; the store's ErrConflict covers other processes.
type Resolver struct {
	stripes      [lockStripes]sync.Mutex
	store        Store
	cooldowns    cooldown.Store
	notifier     Notifier
	suppressions SuppressionRecorder
	settings     atomic.Pointer[Settings]
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNotifier sets the alert collaborator. Without one no alerts are sent.
func WithNotifier(n Notifier) Option { return func(r *Resolver) { r.notifier = n } }

// WithSuppressionRecorder records cooldown-suppressed detections.
func WithSuppressionRecorder(s SuppressionRecorder) Option {
	return func(r *Resolver) { r.suppressions = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// NewResolver creates a Resolver.
func NewResolver(store Store, cooldowns cooldown.Store, settings Settings, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		cooldowns: cooldowns,
		logger:    slog.Default(),
		now:       time.Now,
	}
	r.settings.Store(&settings)
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

// SetSettings swaps the tunables (used on config hot-reload).
func (r *Resolver) SetSettings(s Settings) { r.settings.Store(&s) }

// Resolve consolidates f. Store errors are returned so the caller can queue
// the workflow for retry; alert problems never are.
func (r *Resolver) Resolve(ctx context.Context, f *rules.Finding, ev *event.AuditEvent, fp, key string) (*Resolution, error) {
	mu := r.stripe(key, fp)
	mu.Lock()
	defer mu.Unlock()

	open, err := r.findOpen(ctx, key, fp)
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	if open != nil {
		return r.merge(ctx, open, f, ev, fp)
	}

	now := r.now()
	if r.cooldowns.Active(ctx, fp, now) {
		r.suppress(ctx, f, ev, fp, key)
		return &Resolution{Outcome: OutcomeSuppressed}, nil
	}
	return r.create(ctx, f, ev, fp, key)
}

// stripe picks the mutex for a correlation key, falling back to the fingerprint.
func (r *Resolver) stripe(key, fp string) *sync.Mutex {
	if key == "" {
		key = fp
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.stripes[h.Sum32()%lockStripes]
}

func (r *Resolver) findOpen(ctx context.Context, key, fp string) (*Incident, error) {
	if finder, ok := r.store.(OpenFinder); ok {
		return finder.FindOpen(ctx, key, fp)
	}
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, inc := range all {
		if matches(inc, key, fp) {
			return inc, nil
		}
	}
	return nil, nil
}

func (r *Resolver) merge(ctx context.Context, open *Incident, f *rules.Finding, ev *event.AuditEvent, fp string) (*Resolution, error) {
	occ := occurrenceOf(f, ev)
	updated, err := r.store.Update(ctx, open.ID, func(inc *Incident) {
		history := ringbuf.From(HistoryLimit, inc.Occurrences)
		history.Push(occ)
		inc.Occurrences = history.Items()
		inc.OccurrenceCount++
		if occ.At.After(inc.LastObservedAt) {
			inc.LastObservedAt = occ.At
		}
		if f.Severity == rules.SeverityHigh {
			inc.Severity = rules.SeverityHigh
		}
		inc.Summary = f.Summary
		inc.Notes = notes(f, ev, inc.OccurrenceCount)
	}, r.settings.Load().SystemActor)
	if err != nil {
		return nil, fmt.Errorf("merge into incident %s: %w", open.ID, err)
	}
	r.cooldowns.Arm(ctx, fp, r.now(), r.settings.Load().Cooldown)

	metrics.Consolidations.WithLabelValues(string(OutcomeMerged)).Inc()
	r.logger.Info("finding merged", "incident_id", updated.ID, "rule_id", f.RuleID,
		"occurrences", updated.OccurrenceCount, "event_id", ev.ID)
	return &Resolution{Outcome: OutcomeMerged, Incident: updated}, nil
}

func (r *Resolver) suppress(ctx context.Context, f *rules.Finding, ev *event.AuditEvent, fp, key string) {
	metrics.Consolidations.WithLabelValues(string(OutcomeSuppressed)).Inc()
	r.logger.Info("finding suppressed by cooldown", "rule_id", f.RuleID, "fingerprint", fp, "event_id", ev.ID)
	if r.suppressions == nil {
		return
	}
	s := Suppression{
		ID:             uuid.NewString(),
		RuleID:         f.RuleID,
		Fingerprint:    fp,
		CorrelationKey: key,
		EventID:        ev.ID,
		Actor:          f.Subject.Actor,
		SourceIP:       f.Subject.SourceIP,
		ObservedCount:  f.ObservedCount,
		ObservedAt:     f.ObservedAt,
	}
	if err := r.suppressions.RecordSuppression(ctx, s); err != nil {
		r.logger.Warn("record suppression failed", "fingerprint", fp, "err", err)
	}
}

func (r *Resolver) create(ctx context.Context, f *rules.Finding, ev *event.AuditEvent, fp, key string) (*Resolution, error) {
	occ := occurrenceOf(f, ev)
	inc := &Incident{
		Title:                          f.Title,
		Summary:                        f.Summary,
		IncidentType:                   f.IncidentType,
		RuleID:                         f.RuleID,
		Severity:                       f.Severity,
		Status:                         StatusOpen,
		Fingerprint:                    fp,
		CorrelationKey:                 key,
		OccurrenceCount:                1,
		Occurrences:                    []Occurrence{occ},
		FirstObservedAt:                occ.At,
		LastObservedAt:                 occ.At,
		AffectedPerson:                 f.AffectedPerson,
		RestrictedData:                 f.RestrictedData,
		ContainmentStatus:              ContainmentNotStarted,
		ImpactAssessment:               ImpactPending,
		RegulatoryNotificationRequired: f.RestrictedData,
		Notes:                          notes(f, ev, 1),
		AutoGenerated:                  true,
	}
	created, err := r.store.Create(ctx, inc, r.settings.Load().SystemActor)
	if errors.Is(err, ErrConflict) {
		// Another instance opened the incident first.
		open, ferr := r.findOpen(ctx, key, fp)
		if ferr != nil {
			return nil, fmt.Errorf("find conflicting incident: %w", ferr)
		}
		if open != nil {
			return r.merge(ctx, open, f, ev, fp)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	r.cooldowns.Arm(ctx, fp, r.now(), r.settings.Load().Cooldown)

	metrics.Consolidations.WithLabelValues(string(OutcomeCreated)).Inc()
	r.logger.Info("incident created", "incident_id", created.ID, "rule_id", f.RuleID,
		"severity", f.Severity, "event_id", ev.ID)

	res := &Resolution{Outcome: OutcomeCreated, Incident: created}
	if r.notifier == nil {
		return res, nil
	}
	r.alert(ctx, res, f, ev)
	return res, nil
}

// alert resolves recipients, sends notifications and writes the delivery
// summary back. Every failure here is logged and absorbed.
func (r *Resolver) alert(ctx context.Context, res *Resolution, f *rules.Finding, ev *event.AuditEvent) {
	inc := res.Incident
	recipients, err := r.notifier.ResolveRecipients(ctx, inc, f)
	if err != nil {
		r.logger.Warn("resolve recipients failed", "incident_id", inc.ID, "err", err)
	}
	recipients = dedupe(recipients)
	if limit := r.settings.Load().MaxRecipients; limit > 0 && len(recipients) > limit {
		recipients = recipients[:limit]
	}

	var inApp int
	if len(recipients) > 0 {
		list := make([]InAppNotification, 0, len(recipients))
		for _, rcpt := range recipients {
			list = append(list, InAppNotification{
				ID:         uuid.NewString(),
				IncidentID: inc.ID,
				Recipient:  rcpt,
				Title:      fmt.Sprintf("[%s] %s", f.Severity, f.Title),
				Body:       f.Summary,
				Link:       r.Link(inc.ID),
				CreatedAt:  r.now().UTC(),
			})
		}
		created, err := r.notifier.CreateInAppNotifications(ctx, list)
		if err != nil {
			r.logger.Warn("in-app notifications failed", "incident_id", inc.ID, "err", err)
		}
		inApp = len(created)
	}

	summary := r.notifier.DispatchAlerts(ctx, inc, f, ev, recipients)
	summary.InApp = inApp
	res.Recipients = recipients
	res.Delivery = &summary

	updated, err := r.store.Update(ctx, inc.ID, func(i *Incident) {
		i.Recipients = recipients
		i.LastDelivery = &summary
	}, r.settings.Load().SystemActor)
	if err != nil {
		r.logger.Warn("delivery write-back failed", "incident_id", inc.ID, "err", err)
		return
	}
	res.Incident = updated
}

// Link builds the absolute URL of an incident.
func (r *Resolver) Link(id string) string {
	s := r.settings.Load()
	return Link(s.BaseURL, s.Module, id)
}

// Link joins baseURL, the incident module and id into an action link.
func Link(baseURL, module, id string) string {
	if module == "" {
		module = "security_incidents"
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), module, id)
}

func occurrenceOf(f *rules.Finding, ev *event.AuditEvent) Occurrence {
	return Occurrence{
		At:            f.ObservedAt,
		Activity:      ev.ActivityName,
		Module:        ev.Module,
		EventID:       ev.ID,
		SourceIP:      ev.SourceIP,
		RequestPath:   ev.RequestPath,
		RequestMethod: ev.RequestMethod,
		Actor:         strings.ToLower(strings.TrimSpace(ev.PerformedBy)),
		Target:        f.AffectedPerson,
	}
}

func notes(f *rules.Finding, ev *event.AuditEvent, occurrences int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Auto-generated by rule %s (%s).\n", f.RuleID, f.IncidentType)
	fmt.Fprintf(&b, "Observed %d qualifying events within %d minutes (threshold %d, severity %s).\n",
		f.ObservedCount, f.WindowMinutes, f.Threshold, f.Severity)
	fmt.Fprintf(&b, "Occurrences consolidated: %d.\n", occurrences)
	fmt.Fprintf(&b, "Latest source: event %s, %s / %s", ev.ID, ev.Module, ev.ActivityName)
	if ev.SourceIP != "" {
		fmt.Fprintf(&b, " from %s", ev.SourceIP)
	}
	b.WriteString(".")
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
