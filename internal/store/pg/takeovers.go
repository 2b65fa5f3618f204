package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// TakeoverStore implements store.TakeoverStore on Postgres.
type TakeoverStore struct {
	db *sql.DB
}

func NewTakeoverStore(db *sql.DB) *TakeoverStore {
	return &TakeoverStore{db: db}
}

// StartExclusive runs deactivate-all + insert in one transaction; the
// partial unique index on active takeovers backs this up at the schema level.
func (s *TakeoverStore) StartExclusive(ctx context.Context, t *store.Takeover) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin takeover tx: %w", err)
	}
	defer tx.Rollback()

	now := t.StartedAt
	if now.IsZero() {
		now = time.Now().UTC()
		t.StartedAt = now
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE takeovers SET is_active = FALSE, ended_at = $1 WHERE conversation_id = $2 AND is_active`,
		now, t.ConversationID)
	if err != nil {
		return fmt.Errorf("deactivate takeovers: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO takeovers (id, conversation_id, agent_id, mode, notes, is_active, started_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
		t.ID, t.ConversationID, t.AgentID, t.Mode, t.Notes, now)
	if err != nil {
		return fmt.Errorf("insert takeover: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit takeover tx: %w", err)
	}
	t.IsActive = true
	return nil
}

func (s *TakeoverStore) EndActive(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE takeovers SET is_active = FALSE, ended_at = $1 WHERE conversation_id = $2 AND is_active`,
		at.UTC(), conversationID)
	if err != nil {
		return false, fmt.Errorf("end takeover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *TakeoverStore) Active(ctx context.Context, conversationID string) (*store.Takeover, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, agent_id, mode, notes, is_active, started_at, ended_at
		 FROM takeovers WHERE conversation_id = $1 AND is_active`, conversationID)

	var t store.Takeover
	var endedAt *time.Time
	err := row.Scan(&t.ID, &t.ConversationID, &t.AgentID, &t.Mode, &t.Notes, &t.IsActive, &t.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan takeover: %w", err)
	}
	t.EndedAt = endedAt
	return &t, nil
}
