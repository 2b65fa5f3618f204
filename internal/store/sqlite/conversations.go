package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, channel, contactID, contactName string) (*store.Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel, contact_id, contact_name, status, last_message_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, contact_id) DO NOTHING`,
		uuid.Must(uuid.NewV7()).String(), channel, contactID, contactName, store.ConversationActive, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, contact_id, contact_name, status, last_message_at, created_at
		 FROM conversations WHERE channel = ? AND contact_id = ?`, channel, contactID)
	return scanConversation(row)
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, contact_id, contact_name, status, last_message_at, created_at
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *ConversationStore) List(ctx context.Context, limit, offset int) ([]store.Conversation, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, contact_id, contact_name, status, last_message_at, created_at
		 FROM conversations ORDER BY last_message_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	result := []store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *c)
	}
	return result, total, rows.Err()
}

func (s *ConversationStore) SetStatus(ctx context.Context, id string, from, to store.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	return staleIfNone(res)
}

func (s *ConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.Channel, &c.ContactID, &c.ContactName, &c.Status, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// staleIfNone maps "no rows changed" from a conditional update to ErrStale.
func staleIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}
