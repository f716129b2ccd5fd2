// Package models holds the persistence queries for session metadata. The
// credential folders on disk are the source of truth for which sessions
// exist; these rows carry the configuration that cannot be derived from the
// folder, chiefly the per-session webhook target.
package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Queries wraps a database handle with typed accessors.
type Queries struct {
	db *sql.DB
}

// New creates a Queries over db.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// SessionRecord is the persisted configuration of one session.
type SessionRecord struct {
	ID          string
	WebhookURL  sql.NullString
	Status      string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// UpsertSession creates or refreshes a session row. An existing row keeps
// its CreatedAtMs.
func (q *Queries) UpsertSession(ctx context.Context, id, webhookURL, status string, atMs int64) error {
	if q == nil || strings.TrimSpace(id) == "" {
		return nil
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO sessions (id, webhook_url, status, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	webhook_url = excluded.webhook_url,
	status = excluded.status,
	updated_at_ms = excluded.updated_at_ms;
`, id, nullable(webhookURL), status, atMs, atMs)
	return err
}

// SetSessionStatus updates the persisted lifecycle status.
func (q *Queries) SetSessionStatus(ctx context.Context, id, status string, atMs int64) error {
	if q == nil || strings.TrimSpace(id) == "" {
		return nil
	}

	_, err := q.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, updated_at_ms = ? WHERE id = ?",
		status, atMs, id)
	return err
}

// SessionByID returns the stored record, or nil when the session has no row.
func (q *Queries) SessionByID(ctx context.Context, id string) (*SessionRecord, error) {
	if q == nil || strings.TrimSpace(id) == "" {
		return nil, nil
	}

	var rec SessionRecord
	err := q.db.QueryRowContext(ctx, `
SELECT id, webhook_url, status, created_at_ms, updated_at_ms
FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.WebhookURL, &rec.Status, &rec.CreatedAtMs, &rec.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SessionWebhookURL returns the stored webhook target, or "" when the
// session has no row or no target.
func (q *Queries) SessionWebhookURL(ctx context.Context, id string) (string, error) {
	rec, err := q.SessionByID(ctx, id)
	if err != nil || rec == nil {
		return "", err
	}
	if !rec.WebhookURL.Valid {
		return "", nil
	}
	return rec.WebhookURL.String, nil
}

// ListSessions returns all stored records ordered by creation time.
func (q *Queries) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	if q == nil {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT id, webhook_url, status, created_at_ms, updated_at_ms
FROM sessions ORDER BY created_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.WebhookURL, &rec.Status, &rec.CreatedAtMs, &rec.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes the session row and its event audit trail.
func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	if q == nil || strings.TrimSpace(id) == "" {
		return nil
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM session_events WHERE session_id = ?", id); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

// RecordEvent appends one row to the session's event audit trail.
func (q *Queries) RecordEvent(ctx context.Context, eventID, sessionID, eventType string, atMs int64) error {
	if q == nil || strings.TrimSpace(sessionID) == "" {
		return nil
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO session_events (id, session_id, type, created_at_ms)
VALUES (?, ?, ?, ?)`, eventID, sessionID, eventType, atMs)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
