package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
)

// IncidentStore implements incident.Store and incident.OpenFinder on SQLite.
// The full incident is kept as JSON; lookup columns are denormalized.
type IncidentStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewIncidentStore creates an IncidentStore.
func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db, now: time.Now}
}

// Create implements incident.Store.
func (s *IncidentStore) Create(ctx context.Context, inc *incident.Incident, actor string) (*incident.Incident, error) {
	c := inc.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	c.CreatedBy, c.UpdatedBy = actor, actor
	c.CreatedAt, c.UpdatedAt = now, now

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal incident: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, status, rule_id, severity, fingerprint, correlation_key,
			last_observed_at, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Status), c.RuleID, string(c.Severity), c.Fingerprint, c.CorrelationKey,
		toMillis(c.LastObservedAt), toMillis(c.CreatedAt), toMillis(c.UpdatedAt), string(data))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("insert incident %s: %w", c.CorrelationKey, incident.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	return c, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// Update implements incident.Store.
func (s *IncidentStore) Update(ctx context.Context, id string, mutate func(*incident.Incident), actor string) (*incident.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin incident update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM incidents WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, incident.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", id, err)
	}
	var inc incident.Incident
	if err := json.Unmarshal([]byte(raw), &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", id, err)
	}

	mutate(&inc)
	inc.ID = id
	inc.UpdatedBy = actor
	inc.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(&inc)
	if err != nil {
		return nil, fmt.Errorf("marshal incident: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE incidents SET status = ?, severity = ?, fingerprint = ?, correlation_key = ?,
			last_observed_at = ?, updated_at = ?, data = ?
		WHERE id = ?`,
		string(inc.Status), string(inc.Severity), inc.Fingerprint, inc.CorrelationKey,
		toMillis(inc.LastObservedAt), toMillis(inc.UpdatedAt), string(data), id)
	if err != nil {
		return nil, fmt.Errorf("update incident %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit incident %s: %w", id, err)
	}
	return &inc, nil
}

// List implements incident.Store.
func (s *IncidentStore) List(ctx context.Context) ([]*incident.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM incidents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// FindOpen implements incident.OpenFinder.
func (s *IncidentStore) FindOpen(ctx context.Context, correlationKey, fingerprint string) (*incident.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM incidents
		WHERE status IN (?, ?, ?)
		  AND ((? <> '' AND correlation_key = ?) OR (? <> '' AND fingerprint = ?))
		ORDER BY last_observed_at DESC
		LIMIT 1`,
		string(incident.StatusOpen), string(incident.StatusInvestigating), string(incident.StatusContained),
		correlationKey, correlationKey, fingerprint, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	defer rows.Close()
	list, err := scanIncidents(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func scanIncidents(rows *sql.Rows) ([]*incident.Incident, error) {
	var out []*incident.Incident
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		var inc incident.Incident
		if err := json.Unmarshal([]byte(raw), &inc); err != nil {
			return nil, fmt.Errorf("decode incident: %w", err)
		}
		out = append(out, &inc)
	}
	return out, rows.Err()
}
