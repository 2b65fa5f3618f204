// Package takeover implements the conversation admission gate: whether a
// human agent has claimed a conversation and whether automation may reply.
package takeover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/store"
)

// ErrInvalidMode is returned when Start is given an unknown takeover mode.
var ErrInvalidMode = errors.New("invalid takeover mode")

// Service is the admission gate.
type Service struct {
	takeovers store.TakeoverStore
	events    bus.EventPublisher // optional
}

// New creates the admission gate. events may be nil.
func New(takeovers store.TakeoverStore, events bus.EventPublisher) *Service {
	return &Service{takeovers: takeovers, events: events}
}

// Start claims the conversation for an agent, superseding any active
// takeover. At most one takeover per conversation is active afterwards.
func (s *Service) Start(ctx context.Context, conversationID, agentID string, mode store.TakeoverMode, notes string) (*store.Takeover, error) {
	if !store.ValidTakeoverMode(mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	t := &store.Takeover{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		AgentID:        agentID,
		Mode:           mode,
		Notes:          notes,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.takeovers.StartExclusive(ctx, t); err != nil {
		return nil, fmt.Errorf("start takeover: %w", err)
	}

	slog.Info("takeover started", "conversation_id", conversationID, "agent_id", agentID, "mode", mode)
	s.broadcast(bus.EventTakeoverStarted, t)
	return t, nil
}

// End deactivates the active takeover. Ending a conversation with no active
// takeover is a no-op, not an error.
func (s *Service) End(ctx context.Context, conversationID string) error {
	ended, err := s.takeovers.EndActive(ctx, conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("end takeover: %w", err)
	}
	if ended {
		slog.Info("takeover ended", "conversation_id", conversationID)
		s.broadcast(bus.EventTakeoverEnded, map[string]string{"conversation_id": conversationID})
	}
	return nil
}

// Active returns the active takeover, or store.ErrNotFound.
func (s *Service) Active(ctx context.Context, conversationID string) (*store.Takeover, error) {
	return s.takeovers.Active(ctx, conversationID)
}

// CanBotReply reports whether automation may reply on the conversation:
// true when no takeover is active or the active mode is write_between;
// false for pause_bot and full_control. Storage errors propagate so the
// caller can fail closed.
func (s *Service) CanBotReply(ctx context.Context, conversationID string) (bool, error) {
	t, err := s.takeovers.Active(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup active takeover: %w", err)
	}
	return t.Mode == store.ModeWriteBetween, nil
}

func (s *Service) broadcast(name string, payload any) {
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
