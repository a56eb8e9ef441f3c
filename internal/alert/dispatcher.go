package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// Inbox persists in-app notifications.
type Inbox interface {
	SaveNotifications(ctx context.Context, list []incident.InAppNotification) error
}

// MemoryInbox keeps notifications in memory.
type MemoryInbox struct {
	mu    sync.Mutex
	items []incident.InAppNotification
}

// SaveNotifications implements Inbox.
func (m *MemoryInbox) SaveNotifications(_ context.Context, list []incident.InAppNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, list...)
	return nil
}

// Items returns a copy of the stored notifications.
func (m *MemoryInbox) Items() []incident.InAppNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]incident.InAppNotification(nil), m.items...)
}

// Dispatcher implements incident.Notifier on top of a channel Registry.
type Dispatcher struct {
	registry   *Registry
	inbox      Inbox
	recipients []string
	baseURL    string
	module     string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Recipients is the security team distribution list.
	Recipients []string
	BaseURL    string
	Module     string
	// SendTimeout bounds each channel send.
	SendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A nil inbox stores notifications in memory.
func NewDispatcher(reg *Registry, inbox Inbox, conf DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if inbox == nil {
		inbox = &MemoryInbox{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if conf.SendTimeout <= 0 {
		conf.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		registry:   reg,
		inbox:      inbox,
		recipients: append([]string(nil), conf.Recipients...),
		baseURL:    conf.BaseURL,
		module:     conf.Module,
		timeout:    conf.SendTimeout,
		logger:     logger.With("component", "alert"),
		now:        time.Now,
	}
}

// ResolveRecipients returns the configured distribution list.
func (d *Dispatcher) ResolveRecipients(_ context.Context, inc *incident.Incident, _ *rules.Finding) ([]string, error) {
	if len(d.recipients) == 0 {
		return nil, fmt.Errorf("no alert recipients configured for incident %s", inc.ID)
	}
	return append([]string(nil), d.recipients...), nil
}

// CreateInAppNotifications stores list in the inbox.
func (d *Dispatcher) CreateInAppNotifications(ctx context.Context, list []incident.InAppNotification) ([]incident.InAppNotification, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if err := d.inbox.SaveNotifications(ctx, list); err != nil {
		return nil, fmt.Errorf("save in-app notifications: %w", err)
	}
	return list, nil
}

// DispatchAlerts sends the alert to every registered channel. It never fails;
// per-channel errors are recorded in the returned summary.
func (d *Dispatcher) DispatchAlerts(ctx context.Context, inc *incident.Incident, f *rules.Finding, ev *event.AuditEvent, recipients []string) incident.DeliverySummary {
	summary := incident.DeliverySummary{
		DispatchedAt: d.now().UTC(),
		Recipients:   len(recipients),
	}
	channels := d.registry.All()
	if len(channels) == 0 {
		summary.Error = "no alert channels registered"
		return summary
	}

	a := &Alert{
		IncidentID:     inc.ID,
		RuleID:         f.RuleID,
		IncidentType:   f.IncidentType,
		Severity:       string(f.Severity),
		Title:          f.Title,
		Summary:        f.Summary,
		RestrictedData: f.RestrictedData,
		ObservedCount:  f.ObservedCount,
		WindowMinutes:  f.WindowMinutes,
		Recipients:     recipients,
		Link:           incident.Link(d.baseURL, d.module, inc.ID),
		CreatedAt:      summary.DispatchedAt,
	}
	if ev != nil {
		a.EventID = ev.ID
		a.SourceIP = ev.SourceIP
		a.Actor = ev.PerformedBy
	}

	for _, c := range channels {
		res := incident.ChannelResult{Channel: c.Name(), Recipients: len(recipients)}
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := safeSend(sendCtx, c, a)
		cancel()
		if err != nil {
			res.Error = err.Error()
			summary.Failed++
			metrics.AlertDeliveries.WithLabelValues(c.Name(), "error").Inc()
			d.logger.Warn("alert delivery failed", "channel", c.Name(), "incident_id", inc.ID, "err", err)
		} else {
			res.Success = true
			summary.Delivered++
			metrics.AlertDeliveries.WithLabelValues(c.Name(), "success").Inc()
		}
		summary.Channels = append(summary.Channels, res)
	}
	return summary
}

// safeSend turns a channel panic into an error so dispatch stays total.
func safeSend(ctx context.Context, c Channel, a *Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Send(ctx, a)
}
