// Package messaging streams request events to connected websocket clients.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/ports"
)

const writeWait = 10 * time.Second

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type room struct {
	requestID string
	clients   map[*websocket.Conn]string
	mu        sync.Mutex
}

// Hub keeps one room per request id and implements ports.Notifier by
// broadcasting every notification to the room of its request.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]*room), logger: logger.Named("ws")}
}

// register adds c to the room for requestID, creating the room if needed.
// The lookup and insert happen under h.mu so a concurrent unregister cannot
// delete the room in between.
func (h *Hub) register(requestID, userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[requestID]
	if !ok {
		r = &room{requestID: requestID, clients: make(map[*websocket.Conn]string)}
		h.rooms[requestID] = r
	}
	r.mu.Lock()
	r.clients[c] = userID
	r.mu.Unlock()
}

// unregister drops c and removes the room once it is empty.
func (h *Hub) unregister(requestID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[requestID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.clients, c)
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, requestID)
	}
}

// Clients returns how many connections are watching requestID.
func (h *Hub) Clients(requestID string) int {
	h.mu.Lock()
	r, ok := h.rooms[requestID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (h *Hub) broadcast(requestID string, evt wsEvent) {
	h.mu.Lock()
	r, ok := h.rooms[requestID]
	h.mu.Unlock()
	if !ok {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("encode ws event", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	// gorilla connections allow one concurrent writer, so writes stay under the room lock.
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("ws write failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}

// Notify publishes n to everyone watching its request.
func (h *Hub) Notify(_ context.Context, n ports.Notification) error {
	h.broadcast(n.RequestID, wsEvent{Type: string(n.Kind), Data: n})
	return nil
}
