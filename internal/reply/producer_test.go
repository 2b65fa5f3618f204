package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/store/sqlite"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
)

type fakeGen struct {
	reply       string
	classifyErr error
	generateErr error
	calls       int
}

func (g *fakeGen) ClassifyIntent(_ context.Context, text string) (Intent, error) {
	if g.classifyErr != nil {
		return Intent{}, g.classifyErr
	}
	return Intent{Intent: "general", Confidence: 0.9}, nil
}

func (g *fakeGen) GenerateReply(_ context.Context, _ []store.Message, _ string) (string, error) {
	g.calls++
	if g.generateErr != nil {
		return "", g.generateErr
	}
	return g.reply, nil
}

type fakeFlow struct {
	active bool
	reply  string
	calls  int
}

func (f *fakeFlow) HasActiveContext(context.Context, string) bool { return f.active }

func (f *fakeFlow) Handle(_ context.Context, _, _ string, _ []store.Message) (string, error) {
	f.calls++
	return f.reply, nil
}

type sendRecorder struct {
	gateway.Unconfigured
	sent []string
	err  error
}

func (r *sendRecorder) Send(_ context.Context, _, content string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, content)
	return fmt.Sprintf("ext-%d", len(r.sent)), nil
}

type pipeline struct {
	stores *store.Stores
	gate   *takeover.Service
	gen    *fakeGen
	flow   *fakeFlow
	gw     *sendRecorder
}

func newPipeline(t *testing.T, opts Options) (*Producer, *pipeline) {
	t.Helper()
	stores, err := sqlite.NewStores(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	p := &pipeline{
		stores: stores,
		gate:   takeover.New(stores.Takeovers, nil),
		gen:    &fakeGen{reply: "We open at 9am."},
		flow:   &fakeFlow{reply: "Which date works for you?"},
		gw:     &sendRecorder{},
	}
	return NewProducer(stores, p.gate, p.gen, p.flow, p.gw, nil, opts), p
}

func outboundMessages(t *testing.T, p *pipeline, channel, chatID string) []store.Message {
	t.Helper()
	ctx := context.Background()
	conv, err := p.stores.Conversations.GetOrCreate(ctx, channel, chatID, "")
	if err != nil {
		t.Fatalf("resolve conversation: %v", err)
	}
	msgs, err := p.stores.Messages.ListByConversation(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	var out []store.Message
	for _, m := range msgs {
		if m.Direction == store.DirectionOutbound {
			out = append(out, m)
		}
	}
	return out
}

func TestInboundQueuesReplyForApproval(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "what time do you open"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	out := outboundMessages(t, p, "telegram", "555")
	if len(out) != 1 {
		t.Fatalf("expected 1 outbound message, got %d", len(out))
	}
	if out[0].ApprovalStatus != store.ApprovalPending {
		t.Fatalf("expected pending_approval, got %s", out[0].ApprovalStatus)
	}
	if out[0].Content != "We open at 9am." {
		t.Fatalf("unexpected reply content: %q", out[0].Content)
	}
	if len(p.gw.sent) != 0 {
		t.Fatalf("nothing should be transmitted before approval, sent %d", len(p.gw.sent))
	}
}

func TestInboundSendsDirectlyWhenApprovalDisabled(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: false})
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(p.gw.sent) != 1 {
		t.Fatalf("expected 1 direct send, got %d", len(p.gw.sent))
	}
	out := outboundMessages(t, p, "telegram", "555")
	if len(out) != 1 {
		t.Fatalf("expected 1 outbound record, got %d", len(out))
	}
	if out[0].ApprovalStatus != store.ApprovalNone {
		t.Fatalf("direct sends bypass approval, got %s", out[0].ApprovalStatus)
	}
	if out[0].ExternalMessageID == "" {
		t.Fatal("expected delivery identifier on direct-sent message")
	}
}

func TestTakeoverSuppressesBotReply(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	ctx := context.Background()

	conv, err := p.stores.Conversations.GetOrCreate(ctx, "telegram", "555", "Sam")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := p.gate.Start(ctx, conv.ID, "agent-1", store.ModePauseBot, ""); err != nil {
		t.Fatalf("start takeover: %v", err)
	}

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "anyone there?"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if p.gen.calls != 0 {
		t.Fatal("generator should not run while a takeover suppresses the bot")
	}
	if out := outboundMessages(t, p, "telegram", "555"); len(out) != 0 {
		t.Fatalf("expected no outbound messages, got %d", len(out))
	}

	// The inbound message is still recorded for the human agent to read.
	msgs, err := p.stores.Messages.ListByConversation(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Direction != store.DirectionInbound {
		t.Fatalf("expected inbound message recorded, got %+v", msgs)
	}
}

func TestWriteBetweenModeStillReplies(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	ctx := context.Background()

	conv, err := p.stores.Conversations.GetOrCreate(ctx, "telegram", "555", "Sam")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := p.gate.Start(ctx, conv.ID, "agent-1", store.ModeWriteBetween, ""); err != nil {
		t.Fatalf("start takeover: %v", err)
	}

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if out := outboundMessages(t, p, "telegram", "555"); len(out) != 1 {
		t.Fatalf("expected reply under write_between, got %d outbound", len(out))
	}
}

func TestActiveFlowRoutesAroundGenerator(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	p.flow.active = true
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "book a table"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if p.flow.calls != 1 {
		t.Fatalf("expected flow handler to run once, got %d", p.flow.calls)
	}
	if p.gen.calls != 0 {
		t.Fatal("generator should not run while a flow owns the conversation")
	}
	out := outboundMessages(t, p, "telegram", "555")
	if len(out) != 1 || out[0].Content != "Which date works for you?" {
		t.Fatalf("expected flow reply queued, got %+v", out)
	}
}

func TestGeneratorFailureFallsBackToCannedReply(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true, FallbackReply: "Sorry, please try again shortly."})
	p.gen.generateErr = errors.New("generator unavailable")
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	out := outboundMessages(t, p, "telegram", "555")
	if len(out) != 1 {
		t.Fatalf("expected fallback reply queued, got %d outbound", len(out))
	}
	if out[0].Content != "Sorry, please try again shortly." {
		t.Fatalf("unexpected fallback content: %q", out[0].Content)
	}
}

func TestGeneratorFailureWithoutFallbackStaysSilent(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	p.gen.generateErr = errors.New("generator unavailable")
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if out := outboundMessages(t, p, "telegram", "555"); len(out) != 0 {
		t.Fatalf("expected silence with no fallback configured, got %d outbound", len(out))
	}
}

func TestClassificationFailureDoesNotBlockReply(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: true})
	p.gen.classifyErr = errors.New("classifier unavailable")
	ctx := context.Background()

	if err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if out := outboundMessages(t, p, "telegram", "555"); len(out) != 1 {
		t.Fatalf("classification is advisory, expected reply anyway, got %d outbound", len(out))
	}
}

func TestDirectSendFailurePropagates(t *testing.T) {
	producer, p := newPipeline(t, Options{RequireApproval: false})
	p.gw.err = errors.New("network down")
	ctx := context.Background()

	err := producer.HandleInbound(ctx, "telegram", "555", "Sam", "555", "hello")
	if err == nil || !strings.Contains(err.Error(), "direct send") {
		t.Fatalf("expected direct send error, got %v", err)
	}
	if out := outboundMessages(t, p, "telegram", "555"); len(out) != 0 {
		t.Fatalf("failed send must not leave an outbound record, got %d", len(out))
	}
}
