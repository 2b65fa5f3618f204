package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)

	convs, total, err := s.stores.Conversations.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("conversations.list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation ID"})
		return
	}

	limit, _ := parsePage(r)

	if _, err := s.stores.Conversations.Get(r.Context(), id.String()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		slog.Error("conversations.get", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
		return
	}

	msgs, err := s.stores.Messages.ListByConversation(r.Context(), id.String(), limit)
	if err != nil {
		slog.Error("conversations.messages", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list messages"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"limit":    limit,
	})
}

// handleSetStatus resolves or escalates a conversation. The transition is
// conditional on the caller's view of the current status so two agents
// acting at once cannot silently overwrite each other.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation ID"})
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	to := store.ConversationStatus(body.Status)
	switch to {
	case store.ConversationActive, store.ConversationResolved, store.ConversationEscalated:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	conv, err := s.stores.Conversations.Get(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		slog.Error("conversations.set_status", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
		return
	}

	if conv.Status != to {
		if err := s.stores.Conversations.SetStatus(r.Context(), conv.ID, conv.Status, to); err != nil {
			if errors.Is(err, store.ErrStale) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "conversation status changed concurrently"})
				return
			}
			slog.Error("conversations.set_status", "conversation_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update status"})
			return
		}
		conv.Status = to
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleStartTakeover(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation ID"})
		return
	}

	var body struct {
		AgentID string `json:"agent_id"`
		Mode    string `json:"mode"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}
	if body.Mode == "" {
		body.Mode = string(store.ModePauseBot)
	}

	if _, err := s.stores.Conversations.Get(r.Context(), id.String()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		slog.Error("takeover.start", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
		return
	}

	t, err := s.gate.Start(r.Context(), id.String(), body.AgentID, store.TakeoverMode(body.Mode), body.Notes)
	if err != nil {
		if errors.Is(err, takeover.ErrInvalidMode) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("takeover.start", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start takeover"})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleEndTakeover(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation ID"})
		return
	}

	if err := s.gate.End(r.Context(), id.String()); err != nil {
		slog.Error("takeover.end", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to end takeover"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}
