// Package store defines the persistence models and store interfaces for the
// conversation pipeline. Backends live in store/sqlite (standalone mode) and
// store/pg (managed mode).
package store

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationResolved  ConversationStatus = "resolved"
	ConversationEscalated ConversationStatus = "escalated"
)

// Direction marks a message as inbound (from the customer) or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ApprovalStatus is the review state of an outbound message.
// Transitions are owned exclusively by the approval state machine and are
// applied through conditional updates; see MessageStore.TransitionStatus.
type ApprovalStatus string

const (
	// ApprovalNone marks messages that never enter human review
	// (inbound messages, direct-sent replies).
	ApprovalNone ApprovalStatus = "none"

	ApprovalPending  ApprovalStatus = "pending_approval"
	ApprovalSending  ApprovalStatus = "sending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// TakeoverMode controls what automation may do while an agent holds a
// conversation.
type TakeoverMode string

const (
	// ModePauseBot suppresses all automated replies.
	ModePauseBot TakeoverMode = "pause_bot"
	// ModeWriteBetween lets the bot keep replying while the agent can
	// interleave manual messages.
	ModeWriteBetween TakeoverMode = "write_between"
	// ModeFullControl gives the agent exclusive control. Treated the same
	// as pause_bot for reply admission.
	ModeFullControl TakeoverMode = "full_control"
)

// ValidTakeoverMode reports whether m is a known takeover mode.
func ValidTakeoverMode(m TakeoverMode) bool {
	switch m {
	case ModePauseBot, ModeWriteBetween, ModeFullControl:
		return true
	}
	return false
}

// Conversation is one customer thread on an external chat network.
// Created on first inbound contact, never hard-deleted.
type Conversation struct {
	ID            string             `json:"id"`
	ContactID     string             `json:"contact_id"` // destination on the external network (chat id)
	ContactName   string             `json:"contact_name,omitempty"`
	Channel       string             `json:"channel"` // gateway name: "telegram", "discord"
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Message is a single inbound or outbound message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Direction      Direction      `json:"direction"`
	Content        string         `json:"content"`
	MessageType    string         `json:"message_type"` // "text" for now
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`

	// ExternalMessageID is the delivery identifier returned by the gateway.
	// Once set, no further transmission attempt may occur for this message.
	ExternalMessageID string `json:"external_message_id,omitempty"`

	// ManualRecovery marks a known inconsistency: the gateway confirmed
	// delivery but the delivery marker write failed. Requires an operator.
	ManualRecovery bool `json:"manual_recovery,omitempty"`

	// DeliveryMetadata is a backup record written only by the
	// manual-recovery path (external id, delivery timestamp).
	DeliveryMetadata map[string]string `json:"delivery_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Delivered reports whether the external network already has this message,
// either via the persisted delivery marker or the backup metadata flag.
func (m *Message) Delivered() bool {
	if m.ExternalMessageID != "" {
		return true
	}
	return m.DeliveryMetadata["delivered"] == "true"
}

// Takeover is an agent's claim of control over a conversation.
// At most one takeover per conversation is active at a time.
type Takeover struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	AgentID        string       `json:"agent_id"`
	Mode           TakeoverMode `json:"mode"`
	Notes          string       `json:"notes,omitempty"`
	IsActive       bool         `json:"is_active"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
}
