// Package discord implements the delivery gateway client for Discord using
// gateway events over the bot API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
)

// Client connects to Discord and satisfies gateway.Client.
type Client struct {
	session   *discordgo.Session
	handler   gateway.InboundHandler
	botUserID string
	running   atomic.Bool
}

// New creates a Discord gateway client from config.
func New(cfg config.DiscordConfig) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Client{session: session}, nil
}

func (c *Client) Name() string { return "discord" }

func (c *Client) OnInbound(h gateway.InboundHandler) { c.handler = h }

// Start opens the Discord gateway connection.
func (c *Client) Start(_ context.Context) error {
	slog.Info("starting discord gateway")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.running.Store(true)
	slog.Info("discord gateway connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Client) Stop(_ context.Context) error {
	slog.Info("stopping discord gateway")
	c.running.Store(false)
	return c.session.Close()
}

func (c *Client) Connected() bool { return c.running.Load() }

// Send transmits a text message. destination is the Discord channel id.
func (c *Client) Send(ctx context.Context, destination, content string) (string, error) {
	if !c.Connected() {
		return "", gateway.ErrNotConnected
	}

	sent, err := c.session.ChannelMessageSend(destination, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	return sent.ID, nil
}

func (c *Client) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	slog.Debug("discord message received",
		"channel_id", m.ChannelID,
		"author_id", m.Author.ID,
		"author", m.Author.Username,
	)

	if c.handler != nil {
		c.handler(m.Author.ID, m.Author.Username, m.ChannelID, m.Content)
	}
}
