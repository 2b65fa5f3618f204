// Package telegram implements the delivery gateway client for Telegram via
// the Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
)

// Client connects to Telegram and satisfies gateway.Client.
type Client struct {
	bot     *telego.Bot
	limiter *rate.Limiter
	handler gateway.InboundHandler
	running atomic.Bool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram gateway client from config.
func New(cfg config.TelegramConfig) (*Client, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	rps := cfg.SendRatePerSecond
	if rps <= 0 {
		rps = 25
	}

	return &Client{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), 5),
	}, nil
}

func (c *Client) Name() string { return "telegram" }

func (c *Client) OnInbound(h gateway.InboundHandler) { c.handler = h }

// Start begins long polling for updates.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("starting telegram gateway (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.running.Store(true)
	slog.Info("telegram gateway connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			c.handleUpdate(update)
		}
		c.running.Store(false)
	}()

	return nil
}

// Stop cancels long polling and waits for the update loop to drain.
func (c *Client) Stop(ctx context.Context) error {
	slog.Info("stopping telegram gateway")
	c.running.Store(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) Connected() bool { return c.running.Load() }

// Send transmits a text message. destination is the Telegram chat id.
func (c *Client) Send(ctx context.Context, destination, content string) (string, error) {
	if !c.Connected() {
		return "", gateway.ErrNotConnected
	}

	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", destination, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), content))
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (c *Client) handleUpdate(update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}
	user := message.From
	if user == nil {
		return
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if content == "" {
		// Media-only and service messages carry nothing the pipeline can
		// coalesce.
		return
	}

	senderName := user.FirstName
	if user.Username != "" {
		senderName = user.Username
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"username", user.Username,
	)

	if c.handler != nil {
		c.handler(
			strconv.FormatInt(user.ID, 10),
			senderName,
			strconv.FormatInt(message.Chat.ID, 10),
			content,
		)
	}
}
