package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/kid-companion/internal/memory"
)

// SnapshotBackend persists one session's memory as a JSONB row.
type SnapshotBackend struct {
	store     *Store
	sessionID string
}

// Backends returns a memory.BackendFactory keyed by session ID.
func (s *Store) Backends() memory.BackendFactory {
	return func(sessionID string) memory.Backend {
		return &SnapshotBackend{store: s, sessionID: sessionID}
	}
}

func (b *SnapshotBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.store.db.QueryRow(ctx,
		`SELECT snapshot FROM conversation_state WHERE session_id = $1`, b.sessionID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", b.sessionID, err)
	}
	return data, nil
}

func (b *SnapshotBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.store.db.Exec(ctx, `
		INSERT INTO conversation_state (session_id, snapshot, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (session_id)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		b.sessionID, string(data),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", b.sessionID, err)
	}
	return nil
}

// DeleteSnapshot removes a session's row entirely.
func (s *Store) DeleteSnapshot(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM conversation_state WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	return nil
}
