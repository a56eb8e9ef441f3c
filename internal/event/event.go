package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AuditEvent is the canonical input model produced by the audit-logging pipeline.
// It is treated as immutable once received.
type AuditEvent struct {
	ID            string                 `json:"id" validate:"required,max=128"`
	Module        string                 `json:"module" validate:"required,max=128"`
	ActivityName  string                 `json:"activity_name" validate:"required,max=256"`
	Status        string                 `json:"status" validate:"max=64"`
	OccurredAt    time.Time              `json:"occurred_at"`
	PerformedBy   string                 `json:"performed_by" validate:"max=320"`
	SourceIP      string                 `json:"source_ip" validate:"omitempty,ip"`
	RequestMethod string                 `json:"request_method,omitempty" validate:"max=16"`
	RequestPath   string                 `json:"request_path,omitempty" validate:"max=2048"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ReceivedAt    time.Time              `json:"-"`
}

var validate = validator.New()

// Validate checks structural constraints declared on the struct tags.
func (e *AuditEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("event is nil")
	}
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	return nil
}

// Time returns OccurredAt, falling back to ReceivedAt and then to now.
func (e *AuditEvent) Time(now time.Time) time.Time {
	switch {
	case !e.OccurredAt.IsZero():
		return e.OccurredAt
	case !e.ReceivedAt.IsZero():
		return e.ReceivedAt
	default:
		return now
	}
}

// MetaString returns the first non-empty string value among keys.
func (e *AuditEvent) MetaString(keys ...string) string {
	for _, k := range keys {
		v, ok := e.Metadata[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case fmt.Stringer:
			s = t.String()
		default:
			s = fmt.Sprintf("%v", t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// MetaBool reports whether any of keys holds a truthy value ("true", "1", "yes", true, non-zero).
func (e *AuditEvent) MetaBool(keys ...string) bool {
	for _, k := range keys {
		switch t := e.Metadata[k].(type) {
		case bool:
			if t {
				return true
			}
		case float64:
			if t != 0 {
				return true
			}
		case int:
			if t != 0 {
				return true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes", "y":
				return true
			}
		}
	}
	return false
}
