// Package httpapi serves the agent-facing HTTP API: the approval queue,
// conversation browsing, takeover control and the websocket event feed.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatdeskhq/chatdesk/internal/approval"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/gateway"
	"github.com/chatdeskhq/chatdesk/internal/store"
	"github.com/chatdeskhq/chatdesk/internal/takeover"
)

// Server is the agent-facing API server.
type Server struct {
	cfg       *config.Config
	stores    *store.Stores
	approvals *approval.Service
	gate      *takeover.Service
	gw        gateway.Client
	events    bus.EventPublisher

	hub      *wsHub
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the API server. events may be nil (no websocket feed).
func NewServer(cfg *config.Config, stores *store.Stores, approvals *approval.Service, gate *takeover.Service, gw gateway.Client, events bus.EventPublisher) *Server {
	s := &Server{
		cfg:       cfg,
		stores:    stores,
		approvals: approvals,
		gate:      gate,
		gw:        gw,
		events:    events,
		hub:       newWSHub(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates websocket origins against the allowed list. No
// configured origins means allow all (dev mode); an empty Origin header
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.auth(s.handleWebSocket))

	mux.HandleFunc("GET /v1/approvals/pending", s.auth(s.handleListPending))
	mux.HandleFunc("POST /v1/approvals/{id}/approve", s.auth(s.handleApprove))
	mux.HandleFunc("POST /v1/approvals/{id}/reject", s.auth(s.handleReject))

	mux.HandleFunc("GET /v1/conversations", s.auth(s.handleListConversations))
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.auth(s.handleListMessages))
	mux.HandleFunc("POST /v1/conversations/{id}/status", s.auth(s.handleSetStatus))
	mux.HandleFunc("POST /v1/conversations/{id}/takeover", s.auth(s.handleStartTakeover))
	mux.HandleFunc("DELETE /v1/conversations/{id}/takeover", s.auth(s.handleEndTakeover))

	s.mux = mux
	return mux
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	if s.events != nil {
		s.events.Subscribe("httpapi-ws", s.hub.fanout)
		defer s.events.Unsubscribe("httpapi-ws")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("api server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.hub.closeAll()
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.Server.AuthToken; token != "" {
			if extractBearerToken(r) != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.stores.Ping != nil {
		if err := s.stores.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"channel":   s.gw.Name(),
		"connected": s.gw.Connected(),
	})
}

// extractBearerToken pulls the token from the Authorization header, or from
// the ?token query parameter for websocket clients that cannot set headers.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parsePage reads limit/offset query parameters. Limit is capped at 200.
func parsePage(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
