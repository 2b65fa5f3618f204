package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// MessageStore implements store.MessageStore on Postgres. See the sqlite
// counterpart for the conditional-update contract; the SQL is identical
// modulo placeholders.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, conversation_id, direction, content, message_type,
	approval_status, approved_by, approved_at, external_message_id,
	manual_recovery, delivery_metadata, created_at`

func (s *MessageStore) Insert(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if msg.ApprovalStatus == "" {
		msg.ApprovalStatus = store.ApprovalNone
	}

	var metaJSON *string
	if len(msg.DeliveryMetadata) > 0 {
		b, err := json.Marshal(msg.DeliveryMetadata)
		if err != nil {
			return fmt.Errorf("marshal delivery metadata: %w", err)
		}
		str := string(b)
		metaJSON = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Content, msg.MessageType,
		msg.ApprovalStatus, nilStr(msg.ApprovedBy), msg.ApprovedAt, nilStr(msg.ExternalMessageID),
		msg.ManualRecovery, metaJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *MessageStore) ListPending(ctx context.Context, limit, offset int) ([]store.Message, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE approval_status = $1`, store.ApprovalPending).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count pending: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE approval_status = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		store.ApprovalPending, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	return msgs, total, err
}

func (s *MessageStore) TransitionStatus(ctx context.Context, id string, from, to store.ApprovalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET approval_status = $1 WHERE id = $2 AND approval_status = $3`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	return staleIfNone(res)
}

func (s *MessageStore) SaveExternalID(ctx context.Context, id, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET external_message_id = $1 WHERE id = $2`, externalID, id)
	if err != nil {
		return fmt.Errorf("save external id: %w", err)
	}
	return nil
}

func (s *MessageStore) MarkManualRecovery(ctx context.Context, id string, metadata map[string]string) error {
	b, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal delivery metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET manual_recovery = TRUE, delivery_metadata = $1 WHERE id = $2`, string(b), id)
	if err != nil {
		return fmt.Errorf("mark manual recovery: %w", err)
	}
	return nil
}

func (s *MessageStore) RecordDecision(ctx context.Context, id string, from, to store.ApprovalStatus, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET approval_status = $1, approved_by = $2, approved_at = $3
		 WHERE id = $4 AND approval_status = $5`, to, actor, at.UTC(), id, from)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return staleIfNone(res)
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
	var approvedBy, externalID, metaJSON *string
	var approvedAt *time.Time
	err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Content, &m.MessageType,
		&m.ApprovalStatus, &approvedBy, &approvedAt, &externalID,
		&m.ManualRecovery, &metaJSON, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.ApprovedBy = derefStr(approvedBy)
	m.ApprovedAt = approvedAt
	m.ExternalMessageID = derefStr(externalID)
	if metaJSON != nil && *metaJSON != "" {
		if err := json.Unmarshal([]byte(*metaJSON), &m.DeliveryMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal delivery metadata: %w", err)
		}
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]store.Message, error) {
	result := []store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
