package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatdeskhq/chatdesk/internal/bus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 32
)

// wsClient is one connected agent console.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
	once sync.Once
	done chan struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// wsHub fans bus events out to connected websocket clients.
type wsHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[string]*wsClient)}
}

// fanout queues the event to every connected client. Slow clients drop
// events rather than blocking the broadcaster.
func (h *wsHub) fanout(event bus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- event:
		default:
			slog.Warn("websocket client lagging, event dropped", "client_id", c.id, "event", event.Name)
		}
	}
}

func (h *wsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	slog.Info("agent console connected", "client_id", c.id)
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	slog.Info("agent console disconnected", "client_id", c.id)
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

// handleWebSocket upgrades the connection and streams pipeline events
// (approval queue changes, takeover changes) to the agent console.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.Must(uuid.NewV7()).String(),
		conn: conn,
		send: make(chan bus.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
	s.hub.register(client)
	defer func() {
		s.hub.unregister(client)
		client.close()
	}()

	go s.writeLoop(client)

	// Read loop: the console sends nothing meaningful; reading detects
	// disconnects and services control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *wsClient) {
	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed", "client_id", c.id, "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
