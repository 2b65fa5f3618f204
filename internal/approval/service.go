// Package approval owns the outbound message review lifecycle, from
// pending_approval through confirmed delivery.
//
// Approval, transmission and marker persistence are three independently
// failable steps spanning a network boundary and a storage boundary, so no
// single transaction can cover them. The steps are ordered by decreasing
// reversibility (lock, send, persist marker, finalize) and everything after
// the send is idempotent against replay, which is what makes delivery
// at-most-once despite retries and concurrent approve calls.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/store"
)

// transmitOutcome tags the result of the lock-and-transmit phase so the
// at-most-once reasoning is explicit in control flow rather than buried in
// error handling.
type transmitOutcome int

const (
	transmitDone transmitOutcome = iota // sent and marker persisted
	alreadyDelivered                    // marker was present, no send occurred
	lockLost                            // lost the conditional-update race, nothing sent
	sendFailed                          // gateway failed, status reverted
	persistFailedPostSend               // sent, marker write failed, flagged for recovery
)

// Service is the message approval state machine.
type Service struct {
	messages      store.MessageStore
	conversations store.ConversationStore
	gw            gateway.Client
	events        bus.EventPublisher // optional
	tracer        trace.Tracer

	// inflight tracks message ids with an approve call in progress in this
	// process. It distinguishes a concurrent duplicate (conflict) from a
	// genuinely interrupted attempt left in `sending` (safe to resume);
	// the status column alone cannot tell the two apart.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates the approval service. events may be nil.
func New(messages store.MessageStore, conversations store.ConversationStore, gw gateway.Client, events bus.EventPublisher) *Service {
	return &Service{
		messages:      messages,
		conversations: conversations,
		gw:            gw,
		events:        events,
		tracer:        otel.Tracer("chatdesk/approval"),
		inflight:      make(map[string]struct{}),
	}
}

// Approve drives a pending message through transmission and finalization.
// Safe to retry: every path after the external send is idempotent, and a
// concurrent duplicate call gets ErrConflict or an idempotent success,
// never a second transmission.
func (s *Service) Approve(ctx context.Context, messageID, actor string) (*store.Message, error) {
	ctx, span := s.tracer.Start(ctx, "approval.approve",
		trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	if !s.begin(messageID) {
		return nil, ErrConflict
	}
	defer s.end(messageID)

	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}

	switch msg.ApprovalStatus {
	case store.ApprovalApproved, store.ApprovalRejected:
		return nil, &InvalidStateError{Status: msg.ApprovalStatus}
	}

	// The manual-recovery check precedes the idempotency short-circuit so
	// no normal path can silently re-enter a known-inconsistent message.
	if msg.ManualRecovery {
		return nil, &ManualRecoveryError{ExternalID: s.deliveredID(msg)}
	}

	outcome, externalID, err := s.transmit(ctx, msg)
	span.SetAttributes(attribute.Int("approval.outcome", int(outcome)))

	switch outcome {
	case lockLost, sendFailed, persistFailedPostSend:
		return nil, err
	case alreadyDelivered:
		slog.Info("approval retry caught by idempotency check",
			"message_id", msg.ID, "external_id", externalID)
	case transmitDone:
		slog.Info("message transmitted", "message_id", msg.ID, "external_id", externalID)
	}

	return s.finalize(ctx, msg.ID, actor)
}

// transmit runs steps 4-7: idempotency short-circuit, transmission lock,
// gateway send, marker persistence.
func (s *Service) transmit(ctx context.Context, msg *store.Message) (transmitOutcome, string, error) {
	// Idempotency short-circuit: a prior attempt already delivered this
	// message and only finalization is left.
	if msg.Delivered() {
		return alreadyDelivered, s.deliveredID(msg), nil
	}

	switch msg.ApprovalStatus {
	case store.ApprovalPending:
		// Conditional lock: exactly one concurrent caller wins this.
		err := s.messages.TransitionStatus(ctx, msg.ID, store.ApprovalPending, store.ApprovalSending)
		if errors.Is(err, store.ErrStale) {
			return lockLost, "", ErrConflict
		}
		if err != nil {
			return lockLost, "", fmt.Errorf("acquire transmission lock: %w", err)
		}
	case store.ApprovalSending:
		// A previous attempt was interrupted between lock and finalize
		// with no delivery marker: the send never completed. Proceed
		// under the existing lock.
		slog.Warn("resuming interrupted transmission", "message_id", msg.ID)
	default:
		return lockLost, "", &InvalidStateError{Status: msg.ApprovalStatus}
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		// Still before the irreversible step; release the lock.
		s.revert(ctx, msg.ID)
		return sendFailed, "", fmt.Errorf("load conversation: %w", err)
	}

	externalID, err := s.gw.Send(ctx, conv.ContactID, msg.Content)
	if err != nil {
		s.revert(ctx, msg.ID)
		return sendFailed, "", &TransmissionError{Err: err}
	}

	// The send is irreversible; from here on nothing may trigger another.
	if err := s.messages.SaveExternalID(ctx, msg.ID, externalID); err != nil {
		slog.Error("delivery marker write failed after send",
			"message_id", msg.ID, "external_id", externalID, "error", err)
		s.markRecovery(ctx, msg.ID, externalID)
		return persistFailedPostSend, externalID, &DeliveredError{ExternalID: externalID, Err: err}
	}

	return transmitDone, externalID, nil
}

// finalize records the approval decision (step 8). If the conditional write
// loses to a concurrent retry that already finalized, the stored approved
// message is returned as an idempotent success.
func (s *Service) finalize(ctx context.Context, messageID, actor string) (*store.Message, error) {
	err := s.messages.RecordDecision(ctx, messageID, store.ApprovalSending, store.ApprovalApproved, actor, time.Now().UTC())
	if err != nil && !errors.Is(err, store.ErrStale) {
		// Status stays sending with the marker set; the next retry lands
		// in the idempotency short-circuit and finishes this step.
		return nil, fmt.Errorf("finalize approval: %w", err)
	}

	final, getErr := s.messages.Get(ctx, messageID)
	if getErr != nil {
		return nil, fmt.Errorf("reload message: %w", getErr)
	}
	if errors.Is(err, store.ErrStale) && final.ApprovalStatus != store.ApprovalApproved {
		return nil, &InvalidStateError{Status: final.ApprovalStatus}
	}

	s.broadcast(bus.EventApprovalApproved, final)
	return final, nil
}

// Reject declines a pending message. No transmission is involved, so a
// reject cannot race an approve that already holds the sending lock: the
// conditional write simply fails.
func (s *Service) Reject(ctx context.Context, messageID, actor string) (*store.Message, error) {
	ctx, span := s.tracer.Start(ctx, "approval.reject",
		trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}

	if msg.ApprovalStatus != store.ApprovalPending {
		return nil, &InvalidStateError{Status: msg.ApprovalStatus}
	}

	err = s.messages.RecordDecision(ctx, messageID, store.ApprovalPending, store.ApprovalRejected, actor, time.Now().UTC())
	if errors.Is(err, store.ErrStale) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("record rejection: %w", err)
	}

	final, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}

	slog.Info("message rejected", "message_id", messageID, "actor", actor)
	s.broadcast(bus.EventApprovalRejected, final)
	return final, nil
}

// Pending lists messages awaiting review.
func (s *Service) Pending(ctx context.Context, limit, offset int) ([]store.Message, int, error) {
	return s.messages.ListPending(ctx, limit, offset)
}

// revert releases the transmission lock after a pre-send failure.
func (s *Service) revert(ctx context.Context, messageID string) {
	if err := s.messages.TransitionStatus(ctx, messageID, store.ApprovalSending, store.ApprovalPending); err != nil {
		slog.Error("failed to revert message to pending", "message_id", messageID, "error", err)
	}
}

// markRecovery flags the message and writes the backup delivery record.
func (s *Service) markRecovery(ctx context.Context, messageID, externalID string) {
	meta := map[string]string{
		"external_message_id": externalID,
		"delivered":           "true",
		"delivered_at":        time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.messages.MarkManualRecovery(ctx, messageID, meta); err != nil {
		// Both the marker and the recovery flag failed to persist. The
		// DeliveredError returned to the caller is the only trace left;
		// make sure it is also in the log.
		slog.Error("failed to set manual recovery marker",
			"message_id", messageID, "external_id", externalID, "error", err)
	}
}

func (s *Service) deliveredID(msg *store.Message) string {
	if msg.ExternalMessageID != "" {
		return msg.ExternalMessageID
	}
	return msg.DeliveryMetadata["external_message_id"]
}

// begin registers an in-flight approve attempt; false means another call
// for the same message is running right now.
func (s *Service) begin(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[messageID]; busy {
		return false
	}
	s.inflight[messageID] = struct{}{}
	return true
}

func (s *Service) end(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, messageID)
}

func (s *Service) broadcast(name string, payload any) {
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
