// Package alert delivers incident alerts through pluggable channels.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Alert is the payload handed to every channel.
type Alert struct {
	IncidentID     string    `json:"incident_id"`
	RuleID         string    `json:"rule_id"`
	IncidentType   string    `json:"incident_type"`
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	RestrictedData bool      `json:"restricted_data"`
	ObservedCount  int       `json:"observed_count"`
	WindowMinutes  int       `json:"window_minutes"`
	EventID        string    `json:"event_id,omitempty"`
	SourceIP       string    `json:"source_ip,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	Recipients     []string  `json:"recipients"`
	Link           string    `json:"link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Channel delivers an alert somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, a *Alert) error
}

// LogChannel writes alerts to a structured logger.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a LogChannel. A nil logger uses slog.Default.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(_ context.Context, a *Alert) error {
	l.logger.Warn("security alert",
		"incident_id", a.IncidentID,
		"rule_id", a.RuleID,
		"severity", a.Severity,
		"title", a.Title,
		"recipients", len(a.Recipients),
		"link", a.Link,
	)
	return nil
}

// WebhookChannel posts alerts as JSON.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a WebhookChannel with the given request timeout.
func NewWebhookChannel(url string, headers map[string]string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, a *Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
