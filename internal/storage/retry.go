package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// RetryStore implements retry.Store on the retry_queue and dead_letter_queue tables.
type RetryStore struct {
	db *sql.DB
}

// NewRetryStore creates a RetryStore.
func NewRetryStore(db *sql.DB) *RetryStore {
	return &RetryStore{db: db}
}

func (s *RetryStore) Add(ctx context.Context, r *retry.Record) error {
	ev, fd, err := snapshots(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (id, status, source, attempts, max_attempts, next_attempt_at,
			last_error, fingerprint, correlation_key, event_json, finding_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Source, r.Attempts, r.MaxAttempts, toMillis(r.NextAttemptAt),
		r.LastError, r.Fingerprint, r.CorrelationKey, ev, fd, toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert retry record: %w", err)
	}
	return nil
}

func (s *RetryStore) Due(ctx context.Context, now time.Time, limit int) ([]*retry.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, source, attempts, max_attempts, next_attempt_at, last_error,
			fingerprint, correlation_key, event_json, finding_json, created_at, updated_at
		FROM retry_queue
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT ?`, retry.StatusPending, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due retry records: %w", err)
	}
	defer rows.Close()

	var out []*retry.Record
	for rows.Next() {
		var (
			r                   retry.Record
			next, created, upd  int64
			eventJSON, findJSON string
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Source, &r.Attempts, &r.MaxAttempts, &next, &r.LastError,
			&r.Fingerprint, &r.CorrelationKey, &eventJSON, &findJSON, &created, &upd); err != nil {
			return nil, fmt.Errorf("scan retry record: %w", err)
		}
		r.NextAttemptAt, r.CreatedAt, r.UpdatedAt = fromMillis(next), fromMillis(created), fromMillis(upd)
		// A snapshot that no longer decodes leaves the field nil; the manager
		// then dead-letters the record as malformed.
		r.Event = decodeEvent(eventJSON)
		r.Finding = decodeFinding(findJSON)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *RetryStore) Update(ctx context.Context, r *retry.Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		r.Status, r.Attempts, toMillis(r.NextAttemptAt), r.LastError, toMillis(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update retry record %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retry record %s not found", r.ID)
	}
	return nil
}

func (s *RetryStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete retry record %s: %w", id, err)
	}
	return nil
}

func (s *RetryStore) MoveToDeadLetter(ctx context.Context, r *retry.Record, reason string, at time.Time) error {
	ev, fd, err := snapshots(r)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter move: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO dead_letter_queue (id, reason, source, attempts, max_attempts, last_error,
			fingerprint, correlation_key, event_json, finding_json, created_at, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, reason, r.Source, r.Attempts, r.MaxAttempts, r.LastError,
		r.Fingerprint, r.CorrelationKey, ev, fd, toMillis(r.CreatedAt), toMillis(at))
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("remove dead-lettered record %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dead-letter move %s: %w", r.ID, err)
	}
	return nil
}

func (s *RetryStore) DeadLetters(ctx context.Context, limit int) ([]*retry.DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, source, attempts, max_attempts, last_error, fingerprint, correlation_key,
			event_json, finding_json, created_at, dead_lettered_at
		FROM dead_letter_queue
		ORDER BY dead_lettered_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []*retry.DeadLetter
	for rows.Next() {
		var (
			d                   retry.DeadLetter
			created, at         int64
			eventJSON, findJSON string
		)
		if err := rows.Scan(&d.ID, &d.Reason, &d.Source, &d.Attempts, &d.MaxAttempts, &d.LastError,
			&d.Fingerprint, &d.CorrelationKey, &eventJSON, &findJSON, &created, &at); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.CreatedAt, d.DeadLetteredAt = fromMillis(created), fromMillis(at)
		d.Event = decodeEvent(eventJSON)
		d.Finding = decodeFinding(findJSON)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *RetryStore) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_queue WHERE status = ?`, retry.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count retry records: %w", err)
	}
	return n, nil
}

func snapshots(r *retry.Record) (string, string, error) {
	ev, err := json.Marshal(r.Event)
	if err != nil {
		return "", "", fmt.Errorf("marshal event snapshot: %w", err)
	}
	fd, err := json.Marshal(r.Finding)
	if err != nil {
		return "", "", fmt.Errorf("marshal finding snapshot: %w", err)
	}
	return string(ev), string(fd), nil
}

func decodeEvent(raw string) *event.AuditEvent {
	var ev *event.AuditEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil
	}
	return ev
}

func decodeFinding(raw string) *rules.Finding {
	var f *rules.Finding
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil
	}
	return f
}
