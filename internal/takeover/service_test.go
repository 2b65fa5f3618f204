package takeover

import (
	"context"
	"errors"
	"testing"

	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/store/sqlite"
)

func newGate(t *testing.T) (*Service, string) {
	t.Helper()
	stores, err := sqlite.NewStores(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	conv, err := stores.Conversations.GetOrCreate(context.Background(), "telegram", "12345", "Sam")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return New(stores.Takeovers, nil), conv.ID
}

func TestCanBotReplyDefaultsTrue(t *testing.T) {
	gate, convID := newGate(t)

	ok, err := gate.CanBotReply(context.Background(), convID)
	if err != nil {
		t.Fatalf("CanBotReply: %v", err)
	}
	if !ok {
		t.Fatal("expected bot allowed with no takeover")
	}
}

func TestPauseBotSuppressesReplies(t *testing.T) {
	gate, convID := newGate(t)
	ctx := context.Background()

	if _, err := gate.Start(ctx, convID, "agent-1", store.ModePauseBot, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ok, err := gate.CanBotReply(ctx, convID)
	if err != nil {
		t.Fatalf("CanBotReply: %v", err)
	}
	if ok {
		t.Fatal("expected bot suppressed under pause_bot")
	}

	if err := gate.End(ctx, convID); err != nil {
		t.Fatalf("End: %v", err)
	}

	ok, err = gate.CanBotReply(ctx, convID)
	if err != nil {
		t.Fatalf("CanBotReply after end: %v", err)
	}
	if !ok {
		t.Fatal("expected bot allowed after takeover ended")
	}
}

func TestModeSemantics(t *testing.T) {
	cases := []struct {
		mode  store.TakeoverMode
		allow bool
	}{
		{store.ModePauseBot, false},
		{store.ModeFullControl, false},
		{store.ModeWriteBetween, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			gate, convID := newGate(t)
			ctx := context.Background()

			if _, err := gate.Start(ctx, convID, "agent-1", tc.mode, ""); err != nil {
				t.Fatalf("Start: %v", err)
			}
			ok, err := gate.CanBotReply(ctx, convID)
			if err != nil {
				t.Fatalf("CanBotReply: %v", err)
			}
			if ok != tc.allow {
				t.Fatalf("mode %s: expected allow=%v, got %v", tc.mode, tc.allow, ok)
			}
		})
	}
}

func TestStartSupersedesActiveTakeover(t *testing.T) {
	gate, convID := newGate(t)
	ctx := context.Background()

	first, err := gate.Start(ctx, convID, "agent-1", store.ModePauseBot, "")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := gate.Start(ctx, convID, "agent-2", store.ModeWriteBetween, "shift change")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	active, err := gate.Active(ctx, convID)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected takeover %s active, got %s", second.ID, active.ID)
	}
	if active.ID == first.ID {
		t.Fatal("first takeover should have been superseded")
	}
	if active.AgentID != "agent-2" || active.Mode != store.ModeWriteBetween {
		t.Fatalf("unexpected active takeover: %+v", active)
	}
}

func TestEndWithoutActiveIsNoop(t *testing.T) {
	gate, convID := newGate(t)

	if err := gate.End(context.Background(), convID); err != nil {
		t.Fatalf("End with no active takeover should be a no-op, got %v", err)
	}
}

func TestStartRejectsUnknownMode(t *testing.T) {
	gate, convID := newGate(t)

	_, err := gate.Start(context.Background(), convID, "agent-1", "supervise", "")
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}
