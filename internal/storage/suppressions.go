package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
)

// SuppressionStore records cooldown-suppressed detections.
type SuppressionStore struct {
	db *sql.DB
}

// NewSuppressionStore creates a SuppressionStore.
func NewSuppressionStore(db *sql.DB) *SuppressionStore {
	return &SuppressionStore{db: db}
}

// RecordSuppression implements incident.SuppressionRecorder.
func (s *SuppressionStore) RecordSuppression(ctx context.Context, sp incident.Suppression) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppressed_detections (id, rule_id, fingerprint, correlation_key, event_id,
			actor, source_ip, observed_count, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.RuleID, sp.Fingerprint, sp.CorrelationKey, sp.EventID,
		sp.Actor, sp.SourceIP, sp.ObservedCount, toMillis(sp.ObservedAt))
	if err != nil {
		return fmt.Errorf("insert suppression: %w", err)
	}
	return nil
}

// CountByFingerprint returns how many detections were suppressed for fingerprint.
func (s *SuppressionStore) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressed_detections WHERE fingerprint = ?`, fingerprint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count suppressions: %w", err)
	}
	return n, nil
}
