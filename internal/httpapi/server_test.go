package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chatdeskhq/chatdesk/internal/approval"
	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/store/sqlite"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
)

type stubGateway struct {
	gateway.Unconfigured
	sends int
}

func (g *stubGateway) Send(context.Context, string, string) (string, error) {
	g.sends++
	return fmt.Sprintf("ext-%d", g.sends), nil
}

type fixture struct {
	stores *store.Stores
	gw     *stubGateway
	srv    *httptest.Server
	token  string
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	stores, err := sqlite.NewStores(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	cfg := config.Default()
	cfg.Server.AuthToken = token

	gw := &stubGateway{}
	approvals := approval.New(stores.Messages, stores.Conversations, gw, nil)
	gate := takeover.New(stores.Takeovers, nil)

	server := NewServer(cfg, stores, approvals, gate, gw, nil)
	ts := httptest.NewServer(server.BuildMux())
	t.Cleanup(ts.Close)

	return &fixture{stores: stores, gw: gw, srv: ts, token: token}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// seedPending creates a conversation with one pending outbound message.
func seedPending(t *testing.T, f *fixture) (convID, msgID string) {
	t.Helper()
	ctx := context.Background()
	conv, err := f.stores.Conversations.GetOrCreate(ctx, "telegram", "555", "Sam")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	msg := &store.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        "We open at 9am.",
		ApprovalStatus: store.ApprovalPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.stores.Messages.Insert(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return conv.ID, msg.ID
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodGet, "/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestAuthRequiredWhenTokenConfigured(t *testing.T) {
	f := newFixture(t, "sekret")

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/approvals/pending", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp2 := f.do(t, http.MethodGet, "/v1/approvals/pending", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp2.StatusCode)
	}
}

func TestListPendingApprovals(t *testing.T) {
	f := newFixture(t, "")
	seedPending(t, f)

	resp := f.do(t, http.MethodGet, "/v1/approvals/pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Messages []store.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	decode(t, resp, &body)
	if body.Total != 1 || len(body.Messages) != 1 {
		t.Fatalf("expected one pending message, got total=%d len=%d", body.Total, len(body.Messages))
	}
	if body.Messages[0].ApprovalStatus != store.ApprovalPending {
		t.Fatalf("unexpected status %s", body.Messages[0].ApprovalStatus)
	}
}

func TestApproveEndpoint(t *testing.T) {
	f := newFixture(t, "")
	_, msgID := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/approvals/"+msgID+"/approve", map[string]string{"actor": "agent-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var msg store.Message
	decode(t, resp, &msg)
	if msg.ApprovalStatus != store.ApprovalApproved {
		t.Fatalf("expected approved, got %s", msg.ApprovalStatus)
	}
	if msg.ExternalMessageID == "" {
		t.Fatal("expected delivery identifier on approved message")
	}
	if f.gw.sends != 1 {
		t.Fatalf("expected exactly one send, got %d", f.gw.sends)
	}

	// Re-approval of a terminal message conflicts.
	resp2 := f.do(t, http.MethodPost, "/v1/approvals/"+msgID+"/approve", map[string]string{"actor": "agent-1"})
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on re-approve, got %d", resp2.StatusCode)
	}
	if f.gw.sends != 1 {
		t.Fatalf("re-approve must not transmit again, got %d sends", f.gw.sends)
	}
}

func TestRejectEndpoint(t *testing.T) {
	f := newFixture(t, "")
	_, msgID := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/approvals/"+msgID+"/reject", map[string]string{"actor": "agent-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var msg store.Message
	decode(t, resp, &msg)
	if msg.ApprovalStatus != store.ApprovalRejected {
		t.Fatalf("expected rejected, got %s", msg.ApprovalStatus)
	}
	if f.gw.sends != 0 {
		t.Fatalf("reject must not transmit, got %d sends", f.gw.sends)
	}
}

func TestApproveUnknownMessage(t *testing.T) {
	f := newFixture(t, "")

	id := uuid.Must(uuid.NewV7()).String()
	resp := f.do(t, http.MethodPost, "/v1/approvals/"+id+"/approve", map[string]string{"actor": "agent-1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestApproveRejectsMalformedID(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodPost, "/v1/approvals/not-a-uuid/approve", map[string]string{"actor": "agent-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDecisionRequiresActor(t *testing.T) {
	f := newFixture(t, "")
	_, msgID := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/approvals/"+msgID+"/approve", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without actor, got %d", resp.StatusCode)
	}
}

func TestTakeoverLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, "")
	convID, _ := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/conversations/"+convID+"/takeover",
		map[string]string{"agent_id": "agent-1", "mode": "pause_bot"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var tk store.Takeover
	decode(t, resp, &tk)
	if tk.Mode != store.ModePauseBot || !tk.IsActive {
		t.Fatalf("unexpected takeover: %+v", tk)
	}

	resp2 := f.do(t, http.MethodDelete, "/v1/conversations/"+convID+"/takeover", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on end, got %d", resp2.StatusCode)
	}

	active, err := f.stores.Takeovers.Active(context.Background(), convID)
	if err == nil {
		t.Fatalf("expected no active takeover after end, got %+v", active)
	}
}

func TestTakeoverRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, "")
	convID, _ := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/conversations/"+convID+"/takeover",
		map[string]string{"agent_id": "agent-1", "mode": "supervise"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTakeoverUnknownConversation(t *testing.T) {
	f := newFixture(t, "")

	id := uuid.Must(uuid.NewV7()).String()
	resp := f.do(t, http.MethodPost, "/v1/conversations/"+id+"/takeover",
		map[string]string{"agent_id": "agent-1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSetConversationStatus(t *testing.T) {
	f := newFixture(t, "")
	convID, _ := seedPending(t, f)

	resp := f.do(t, http.MethodPost, "/v1/conversations/"+convID+"/status", map[string]string{"status": "resolved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var conv store.Conversation
	decode(t, resp, &conv)
	if conv.Status != store.ConversationResolved {
		t.Fatalf("expected resolved, got %s", conv.Status)
	}

	resp2 := f.do(t, http.MethodPost, "/v1/conversations/"+convID+"/status", map[string]string{"status": "closed"})
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp2.StatusCode)
	}
}

func TestListConversationsAndMessages(t *testing.T) {
	f := newFixture(t, "")
	convID, _ := seedPending(t, f)

	resp := f.do(t, http.MethodGet, "/v1/conversations", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Conversations []store.Conversation `json:"conversations"`
		Total         int                  `json:"total"`
	}
	decode(t, resp, &list)
	if list.Total != 1 || len(list.Conversations) != 1 {
		t.Fatalf("expected one conversation, got total=%d len=%d", list.Total, len(list.Conversations))
	}

	resp2 := f.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
	var msgs struct {
		Messages []store.Message `json:"messages"`
	}
	decode(t, resp2, &msgs)
	if len(msgs.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs.Messages))
	}
}
