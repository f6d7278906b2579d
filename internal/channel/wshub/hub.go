// Package wshub is a websocket event transport: a Hub server that fans every
// message received on a session scope out to all connections subscribed to
// that scope, and a Client that speaks to it. It exists for deployments with
// no broker available; the Hub is deliberately dumb relay infrastructure.
package wshub

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (hc *hubConn) write(messageType int, data []byte) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.conn.WriteMessage(messageType, data)
}

type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*hubConn]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		rooms:  make(map[string]map[*hubConn]struct{}),
	}
}

func (h *Hub) Mux() http.Handler {
	r := chi.NewRouter()

	r.HandleFunc("/sessions/{session-id}/ws", h.serveWS)

	return r
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session-id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	hc := &hubConn{conn: conn}
	h.add(sessionID, hc)
	defer func() {
		h.remove(sessionID, hc)
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.broadcast(sessionID, data)
	}
}

// broadcast relays to every connection in the room, the sender included:
// self-echo suppression is the consumer's job, and echoing keeps the relay
// free of per-connection identity.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	conns := make([]*hubConn, 0, len(h.rooms[sessionID]))
	for hc := range h.rooms[sessionID] {
		conns = append(conns, hc)
	}
	h.mu.RUnlock()

	for _, hc := range conns {
		if err := hc.write(websocket.TextMessage, data); err != nil {
			h.logger.Warn("failed to relay event", "session_id", sessionID, "error", err)
		}
	}
}

func (h *Hub) add(sessionID string, hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*hubConn]struct{})
	}
	h.rooms[sessionID][hc] = struct{}{}
}

func (h *Hub) remove(sessionID string, hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[sessionID], hc)
	if len(h.rooms[sessionID]) == 0 {
		delete(h.rooms, sessionID)
	}
}
