package store

import (
	"context"
	"time"
)

// ConversationStore persists customer conversations.
type ConversationStore interface {
	// GetOrCreate returns the conversation for (channel, contactID),
	// creating an active one on first contact.
	GetOrCreate(ctx context.Context, channel, contactID, contactName string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, limit, offset int) ([]Conversation, int, error)
	// SetStatus applies status only if the stored status equals from
	// (ErrStale otherwise).
	SetStatus(ctx context.Context, id string, from, to ConversationStatus) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists messages. All approval_status mutations go through
// the conditional primitives below; there is deliberately no unconditional
// status setter.
type MessageStore interface {
	Insert(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error)
	ListPending(ctx context.Context, limit, offset int) ([]Message, int, error)

	// TransitionStatus sets approval_status to `to` only if it currently
	// equals `from`. Returns ErrStale when no row matched, which means a
	// concurrent writer got there first.
	TransitionStatus(ctx context.Context, id string, from, to ApprovalStatus) error

	// SaveExternalID persists the gateway delivery identifier.
	SaveExternalID(ctx context.Context, id, externalID string) error

	// MarkManualRecovery sets the manual-recovery flag and writes the backup
	// delivery metadata. Called only after a confirmed send whose marker
	// write failed.
	MarkManualRecovery(ctx context.Context, id string, metadata map[string]string) error

	// RecordDecision finalizes a human decision (approved or rejected) with
	// actor and timestamp, conditional on the current status equaling from.
	RecordDecision(ctx context.Context, id string, from, to ApprovalStatus, actor string, at time.Time) error
}

// TakeoverStore persists agent takeovers.
type TakeoverStore interface {
	// StartExclusive deactivates any active takeover for the conversation
	// and inserts t as the new active one, atomically.
	StartExclusive(ctx context.Context, t *Takeover) error
	// EndActive deactivates the active takeover. Returns false when none
	// was active.
	EndActive(ctx context.Context, conversationID string, at time.Time) (bool, error)
	// Active returns the active takeover, or ErrNotFound.
	Active(ctx context.Context, conversationID string) (*Takeover, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore
	Takeovers     TakeoverStore

	// Ping verifies the backend is reachable (health endpoint).
	Ping func(ctx context.Context) error
	// Close releases the underlying connections.
	Close func() error
}
