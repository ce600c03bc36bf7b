package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertRow is one recorded escalation, kept for caregiver review.
type AlertRow struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Trigger   string    `json:"trigger"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Matched   []string  `json:"matched"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertAlert records one alert.
func (s *Store) InsertAlert(ctx context.Context, row *AlertRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO safety_alerts (id, session_id, trigger_name, category, action, matched, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.SessionID, row.Trigger, row.Category, row.Action, row.Matched, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts for a session, most recent first.
func (s *Store) ListAlerts(ctx context.Context, sessionID string, limit int) ([]AlertRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, session_id, trigger_name, category, action, matched, created_at
		FROM safety_alerts
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := []AlertRow{}
	for rows.Next() {
		var r AlertRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Trigger, &r.Category, &r.Action, &r.Matched, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
