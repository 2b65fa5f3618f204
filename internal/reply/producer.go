// Package reply orchestrates the pipeline between a coalesced inbound
// message and an outbound reply: admission gate, flow routing, content
// generation, then direct send or the approval queue.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
)

const historyLimit = 50

// Producer consumes coalesced inbound messages and produces replies.
type Producer struct {
	stores *store.Stores
	gate   *takeover.Service
	gen    ContentGenerator
	flow   FlowHandler // optional
	gw     gateway.Client
	events bus.EventPublisher // optional
	tracer trace.Tracer

	// requireApproval parks replies as pending_approval instead of
	// sending directly.
	requireApproval bool
	// fallbackReply is sent when the generator fails; empty = stay silent.
	fallbackReply string
}

// Options tunes producer behavior.
type Options struct {
	RequireApproval bool
	FallbackReply   string
}

// NewProducer wires the pipeline orchestrator. flow and events may be nil.
func NewProducer(stores *store.Stores, gate *takeover.Service, gen ContentGenerator, flow FlowHandler, gw gateway.Client, events bus.EventPublisher, opts Options) *Producer {
	return &Producer{
		stores:          stores,
		gate:            gate,
		gen:             gen,
		flow:            flow,
		gw:              gw,
		events:          events,
		tracer:          otel.Tracer("chatdesk/reply"),
		requireApproval: opts.RequireApproval,
		fallbackReply:   opts.FallbackReply,
	}
}

// HandleInbound processes one coalesced inbound message from a sender.
func (p *Producer) HandleInbound(ctx context.Context, channel, senderID, senderName, chatID, content string) error {
	ctx, span := p.tracer.Start(ctx, "reply.handle_inbound",
		trace.WithAttributes(attribute.String("channel", channel)))
	defer span.End()

	now := time.Now().UTC()

	conv, err := p.stores.Conversations.GetOrCreate(ctx, channel, chatID, senderName)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	inbound := &store.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Content:        content,
		ApprovalStatus: store.ApprovalNone,
		CreatedAt:      now,
	}
	if err := p.stores.Messages.Insert(ctx, inbound); err != nil {
		return fmt.Errorf("record inbound message: %w", err)
	}
	if err := p.stores.Conversations.Touch(ctx, conv.ID, now); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	// Admission gate. An unknown gate state counts as "do not auto-reply":
	// a human may own this conversation and a wrong guess is worse than
	// silence.
	allowed, err := p.gate.CanBotReply(ctx, conv.ID)
	if err != nil {
		slog.Error("admission gate lookup failed, suppressing reply",
			"conversation_id", conv.ID, "error", err)
		return fmt.Errorf("admission gate: %w", err)
	}
	if !allowed {
		slog.Debug("bot reply suppressed by takeover", "conversation_id", conv.ID)
		return nil
	}

	text, err := p.produce(ctx, conv, content)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	if p.requireApproval {
		return p.enqueueForApproval(ctx, conv, text)
	}
	return p.sendDirect(ctx, conv, text)
}

// produce picks the reply source: an active multi-turn flow if one owns the
// conversation, otherwise intent classification plus generation.
func (p *Producer) produce(ctx context.Context, conv *store.Conversation, content string) (string, error) {
	history, err := p.stores.Messages.ListByConversation(ctx, conv.ID, historyLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	if p.flow != nil && p.flow.HasActiveContext(ctx, conv.ID) {
		text, err := p.flow.Handle(ctx, conv.ID, content, history)
		if err != nil {
			return "", fmt.Errorf("flow handler: %w", err)
		}
		return text, nil
	}

	intent, err := p.gen.ClassifyIntent(ctx, content)
	if err != nil {
		slog.Warn("intent classification failed", "conversation_id", conv.ID, "error", err)
	} else {
		slog.Debug("intent classified",
			"conversation_id", conv.ID, "intent", intent.Intent, "confidence", intent.Confidence)
	}

	text, err := p.gen.GenerateReply(ctx, history, content)
	if err != nil {
		slog.Error("reply generation failed", "conversation_id", conv.ID, "error", err)
		return p.fallbackReply, nil
	}
	return text, nil
}

// enqueueForApproval inserts the reply as pending_approval for the state
// machine to govern.
func (p *Producer) enqueueForApproval(ctx context.Context, conv *store.Conversation, text string) error {
	msg := &store.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        text,
		ApprovalStatus: store.ApprovalPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.stores.Messages.Insert(ctx, msg); err != nil {
		return fmt.Errorf("enqueue pending approval: %w", err)
	}

	slog.Info("reply queued for approval", "conversation_id", conv.ID, "message_id", msg.ID)
	if p.events != nil {
		p.events.Broadcast(bus.Event{Name: bus.EventApprovalPending, Payload: msg})
	}
	return nil
}

// sendDirect transmits immediately and records the outbound message with
// its delivery identifier.
func (p *Producer) sendDirect(ctx context.Context, conv *store.Conversation, text string) error {
	externalID, err := p.gw.Send(ctx, conv.ContactID, text)
	if err != nil {
		return fmt.Errorf("direct send: %w", err)
	}

	msg := &store.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		Direction:         store.DirectionOutbound,
		Content:           text,
		ApprovalStatus:    store.ApprovalNone,
		ExternalMessageID: externalID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := p.stores.Messages.Insert(ctx, msg); err != nil {
		// The message is already on the network; the record is best effort.
		slog.Error("failed to record direct-sent message",
			"conversation_id", conv.ID, "external_id", externalID, "error", err)
	}
	return nil
}
