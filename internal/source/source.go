// Package source consumes audit events from message brokers and hands them
// to the detection engine.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
)

// Submitter accepts events for detached processing. *engine.Engine satisfies it.
type Submitter interface {
	Submit(ev *event.AuditEvent) error
}

// ErrMalformed wraps decode and validation failures. Malformed payloads are
// acknowledged and dropped; redelivery would never fix them.
var ErrMalformed = errors.New("malformed audit event")

// Decode parses a JSON audit event and validates it.
func Decode(data []byte, received time.Time) (*event.AuditEvent, error) {
	var ev event.AuditEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev.ReceivedAt = received
	return &ev, nil
}

// submitWithBackoff retries Submit while the engine signals back-pressure.
func submitWithBackoff(ctx context.Context, sub Submitter, ev *event.AuditEvent, logger *slog.Logger) error {
	delay := 50 * time.Millisecond
	for {
		err := sub.Submit(ev)
		if err == nil {
			return nil
		}
		logger.Warn("engine busy, backing off", "event_id", ev.ID, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}
