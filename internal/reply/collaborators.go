package reply

import (
	"context"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// Intent is the classification result for an inbound message.
type Intent struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

// ContentGenerator is the black-box content-generation collaborator. How it
// composes replies is outside this system; the pipeline only transports
// its output.
type ContentGenerator interface {
	ClassifyIntent(ctx context.Context, text string) (Intent, error)
	GenerateReply(ctx context.Context, history []store.Message, text string) (string, error)
}

// FlowHandler owns multi-turn dialogues (e.g. a booking flow). When it has
// active context for a conversation, inbound messages route to it instead
// of the generator.
type FlowHandler interface {
	HasActiveContext(ctx context.Context, conversationID string) bool
	Handle(ctx context.Context, conversationID, text string, history []store.Message) (string, error)
}
