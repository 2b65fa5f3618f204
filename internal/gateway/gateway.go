// Package gateway defines the delivery gateway client: the thin interface to
// the external chat network. Implementations connect to Telegram or Discord;
// the pipeline only sees this interface.
package gateway

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send when the client has no live connection
// to the external network.
var ErrNotConnected = errors.New("gateway not connected")

// InboundHandler receives one raw inbound fragment from the network.
// Handlers must not block; the pipeline buffers behind the message bus.
type InboundHandler func(senderID, senderName, chatID, content string)

// Client is the delivery gateway client.
//
// Send must be invoked at most once per logical outbound message; the
// approval state machine owns that guarantee, not the client.
type Client interface {
	// Name identifies the network ("telegram", "discord").
	Name() string

	// Start connects and begins delivering inbound fragments to the
	// registered handler. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop disconnects gracefully.
	Stop(ctx context.Context) error

	// Send transmits content to destination and returns the per-message
	// delivery identifier assigned by the network.
	Send(ctx context.Context, destination, content string) (string, error)

	// Connected reports live connectivity to the network.
	Connected() bool

	// OnInbound registers the inbound fragment handler. Must be called
	// before Start.
	OnInbound(h InboundHandler)
}

// Unconfigured is a Client for API-only deployments with no chat network
// attached. Send always fails; nothing is ever received.
type Unconfigured struct{}

func (Unconfigured) Name() string                    { return "none" }
func (Unconfigured) Start(context.Context) error     { return nil }
func (Unconfigured) Stop(context.Context) error      { return nil }
func (Unconfigured) Connected() bool                 { return false }
func (Unconfigured) OnInbound(InboundHandler)        {}
func (Unconfigured) Send(context.Context, string, string) (string, error) {
	return "", ErrNotConnected
}
