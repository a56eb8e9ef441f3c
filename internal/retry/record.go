// Package retry persists failed detection workflows and replays them with
// exponential backoff, quarantining records that cannot succeed.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// ErrMalformedRecord marks a record that can never be replayed.
var ErrMalformedRecord = errors.New("malformed retry record")

// StatusPending is the only live status; successful records are deleted.
const StatusPending = "pending"

// Dead-letter reasons.
const (
	ReasonExhausted = "exhausted"
	ReasonMalformed = "malformed"
)

// Record is a queued workflow execution.
type Record struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Source         string            `json:"source"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	LastError      string            `json:"last_error,omitempty"`
	Fingerprint    string            `json:"fingerprint"`
	CorrelationKey string            `json:"correlation_key"`
	Event          *event.AuditEvent `json:"event"`
	Finding        *rules.Finding    `json:"finding"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate reports ErrMalformedRecord when the record lacks what a replay needs.
func (r *Record) Validate() error {
	switch {
	case r.Fingerprint == "":
		return fmt.Errorf("%w: missing fingerprint", ErrMalformedRecord)
	case r.Finding == nil || r.Finding.RuleID == "":
		return fmt.Errorf("%w: missing rule id", ErrMalformedRecord)
	case r.Event == nil || r.Event.ID == "":
		return fmt.Errorf("%w: missing event identity", ErrMalformedRecord)
	}
	return nil
}

// Clone returns a copy sharing the immutable event and finding snapshots.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// DeadLetter is a terminal record. The engine never reads these back.
type DeadLetter struct {
	Record
	Reason         string    `json:"reason"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// Backoff returns min(ceiling, base * 2^(attempt-1)). Attempts below 1 count as 1.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
