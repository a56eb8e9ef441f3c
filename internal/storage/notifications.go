package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
)

// NotificationStore persists in-app notifications (alert.Inbox).
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore creates a NotificationStore.
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// SaveNotifications inserts list in one transaction.
func (s *NotificationStore) SaveNotifications(ctx context.Context, list []incident.InAppNotification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notifications: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notifications (id, incident_id, recipient, title, body, link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare notification insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range list {
		if _, err := stmt.ExecContext(ctx, n.ID, n.IncidentID, n.Recipient, n.Title, n.Body, n.Link, toMillis(n.CreatedAt)); err != nil {
			return fmt.Errorf("insert notification for %s: %w", n.Recipient, err)
		}
	}
	return tx.Commit()
}

// ForRecipient returns the notifications addressed to recipient, newest first.
func (s *NotificationStore) ForRecipient(ctx context.Context, recipient string) ([]incident.InAppNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, recipient, title, body, link, created_at
		FROM notifications WHERE recipient = ? ORDER BY created_at DESC`, recipient)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []incident.InAppNotification
	for rows.Next() {
		var (
			n       incident.InAppNotification
			created int64
		)
		if err := rows.Scan(&n.ID, &n.IncidentID, &n.Recipient, &n.Title, &n.Body, &n.Link, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = fromMillis(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
