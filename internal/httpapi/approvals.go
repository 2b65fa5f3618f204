package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatdeskhq/chatdesk/internal/approval"
)

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)

	msgs, total, err := s.approvals.Pending(r.Context(), limit, offset)
	if err != nil {
		slog.Error("approvals.list_pending", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list pending approvals"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

type decisionRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message ID"})
		return
	}

	var body decisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	msg, err := s.approvals.Approve(r.Context(), id.String(), body.Actor)
	if err != nil {
		s.writeApprovalError(w, id.String(), err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message ID"})
		return
	}

	var body decisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}

	msg, err := s.approvals.Reject(r.Context(), id.String(), body.Actor)
	if err != nil {
		s.writeApprovalError(w, id.String(), err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// writeApprovalError maps state machine errors to HTTP statuses. The
// delivered-but-unrecorded case must never look like a retryable failure.
func (s *Server) writeApprovalError(w http.ResponseWriter, messageID string, err error) {
	var invalidState *approval.InvalidStateError
	var recovery *approval.ManualRecoveryError
	var delivered *approval.DeliveredError
	var transmission *approval.TransmissionError

	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
	case errors.As(err, &invalidState):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  err.Error(),
			"status": invalidState.Status,
		})
	case errors.Is(err, approval.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &recovery):
		writeJSON(w, http.StatusLocked, map[string]interface{}{
			"error":               err.Error(),
			"manual_recovery":     true,
			"external_message_id": recovery.ExternalID,
		})
	case errors.As(err, &delivered):
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":               err.Error(),
			"delivered":           true,
			"external_message_id": delivered.ExternalID,
		})
	case errors.As(err, &transmission):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		slog.Error("approval decision failed", "message_id", messageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "approval decision failed"})
	}
}
