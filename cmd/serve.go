package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/approval"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/debounce"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/gateway/discord"
	"github.com/chatdeskhq/chatdesk/internal/gateway/telegram"
	"github.com/chatdeskhq/chatdesk/internal/httpapi"
	"github.com/chatdeskhq/chatdesk/internal/reply"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/store/pg"
	"github.com/chatdeskhq/chatdesk/internal/store/sqlite"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
	"github.com/chatdeskhq/chatdesk/internal/tracing"
)

// flushTimeout bounds one coalesced batch's trip through the pipeline.
const flushTimeout = 60 * time.Second

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(context.Background(), "chatdesk", cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	msgBus := bus.New(100)

	gw, err := buildGateway(cfg)
	if err != nil {
		slog.Error("failed to initialize gateway client", "channel", cfg.Channel.Type, "error", err)
		os.Exit(1)
	}

	gate := takeover.New(stores.Takeovers, msgBus)
	approvals := approval.New(stores.Messages, stores.Conversations, gw, msgBus)

	generator := reply.NewHTTPGenerator(cfg.Generator.BaseURL, time.Duration(cfg.Generator.TimeoutSeconds)*time.Second)
	producer := reply.NewProducer(stores, gate, generator, nil, gw, msgBus, reply.Options{
		RequireApproval: cfg.Pipeline.RequireApproval,
		FallbackReply:   cfg.Pipeline.FallbackReply,
	})

	// Debounce buffer: raw fragments in, coalesced batches out. The flush
	// runs on a timer goroutine, so it gets its own bounded context.
	channelName := gw.Name()
	buffer := debounce.New(time.Duration(cfg.Pipeline.DebounceSeconds)*time.Second,
		func(senderID, senderName, chatID, content string) error {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			return producer.HandleInbound(ctx, channelName, senderID, senderName, chatID, content)
		})

	gw.OnInbound(func(senderID, senderName, chatID, content string) {
		msgBus.PublishInbound(bus.InboundMessage{
			Channel:    channelName,
			SenderID:   senderID,
			SenderName: senderName,
			ChatID:     chatID,
			Content:    content,
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Consumer: bus to debounce buffer.
	go func() {
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			buffer.Add(msg.SenderID, msg.SenderName, msg.ChatID, msg.Content)
		}
	}()

	if err := gw.Start(ctx); err != nil {
		slog.Error("failed to start gateway client", "channel", cfg.Channel.Type, "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		// Stop taking new messages, then drain what is already buffered.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := gw.Stop(stopCtx); err != nil {
			slog.Warn("gateway stop failed", "error", err)
		}
		msgBus.Close()
		buffer.Stop(true)

		cancel()
	}()

	slog.Info("chatdesk starting",
		"version", Version,
		"channel", channelName,
		"driver", cfg.Database.Driver,
		"require_approval", cfg.Pipeline.RequireApproval,
		"debounce_seconds", cfg.Pipeline.DebounceSeconds,
	)

	server := httpapi.NewServer(cfg, stores, approvals, gate, gw, msgBus)
	if err := server.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.Driver == "postgres" {
		return pg.NewStores(cfg.Database.PostgresDSN)
	}
	return sqlite.NewStores(cfg.Database.SQLitePath)
}

func buildGateway(cfg *config.Config) (gateway.Client, error) {
	switch cfg.Channel.Type {
	case "telegram":
		return telegram.New(cfg.Channel.Telegram)
	case "discord":
		return discord.New(cfg.Channel.Discord)
	default:
		return gateway.Unconfigured{}, nil
	}
}
