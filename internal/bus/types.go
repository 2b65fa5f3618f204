// Package bus carries messages and events between the gateway clients, the
// pipeline consumer and the websocket feed, all in-process.
package bus

import "context"

// InboundMessage is one raw fragment received from the external chat network.
// Fragments are coalesced by the debounce buffer before the reply producer
// sees them.
type InboundMessage struct {
	Channel    string            `json:"channel"` // gateway name: "telegram", "discord"
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side event broadcast to websocket clients
// (agent consoles watching the approval queue).
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Event names pushed to agent consoles.
const (
	EventApprovalPending  = "approval.pending"  // a message entered the review queue
	EventApprovalApproved = "approval.approved" // a message was approved and delivered
	EventApprovalRejected = "approval.rejected"
	EventTakeoverStarted  = "takeover.started"
	EventTakeoverEnded    = "takeover.ended"
)

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription. Used by the
// pipeline and the websocket hub to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound message routing between gateway clients
// and the pipeline consumer.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
