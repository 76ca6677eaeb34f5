// Package websocket is the realtime gateway: it upgrades UI connections,
// fans bus events out to clients, and accepts respond/approve/deny actions.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	ws "github.com/etwicaksono/droid-remote/pkg/websocket"
)

// SessionsProvider builds the payload pushed to a freshly connected client.
type SessionsProvider func(ctx context.Context) (map[string]interface{}, error)

// Hub tracks the connected clients and which sessions each one is watching.
// Client membership is mutated directly under the lock; broadcasts funnel
// through Run so they keep their order.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	watchers map[string]map[*Client]bool // session ID -> clients narrowed to it

	broadcast chan *ws.Message

	dispatcher *ws.Dispatcher
	sessions   SessionsProvider
	logger     *logger.Logger
}

// NewHub creates the hub.
func NewHub(dispatcher *ws.Dispatcher, sessions SessionsProvider, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		watchers:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *ws.Message, 256),
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run pumps broadcasts until ctx is cancelled, then tears every client down.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case msg := <-h.broadcast:
			h.fanOut(msg, "")
		}
	}
}

// Register adds a freshly upgraded client and primes it with the current
// session list so the UI can render without a round trip.
func (h *Hub) Register(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug("Client registered", zap.String("client_id", client.ID))

	if h.sessions == nil {
		return
	}
	payload, err := h.sessions(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build initial sessions push")
		return
	}
	if msg, err := ws.NewNotification(ws.ActionSessionsUpdate, payload); err == nil {
		client.push(msg)
	}
}

// Unregister drops a client and any session scopes it held. Safe to call
// more than once; only the first call closes the send queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for sessionID := range client.watching {
		h.dropWatcher(client, sessionID)
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// Watch narrows a client to one session's event stream.
func (h *Hub) Watch(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers[sessionID] == nil {
		h.watchers[sessionID] = make(map[*Client]bool)
	}
	h.watchers[sessionID][client] = true
	client.watching[sessionID] = true

	h.logger.Debug("Client watching session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// Unwatch removes one session scope from a client.
func (h *Hub) Unwatch(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.watching, sessionID)
	h.dropWatcher(client, sessionID)
}

// dropWatcher must be called with the lock held.
func (h *Hub) dropWatcher(client *Client, sessionID string) {
	set, ok := h.watchers[sessionID]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.watchers, sessionID)
	}
}

// Broadcast queues a notification for every connected client.
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToSession routes a session-scoped event: clients watching that
// session receive it, as do clients that have not narrowed to any session
// (the dashboard view watches everything).
func (h *Hub) BroadcastToSession(sessionID string, msg *ws.Message) {
	h.fanOut(msg, sessionID)
}

func (h *Hub) fanOut(msg *ws.Message, sessionID string) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if sessionID != "" && len(client.watching) > 0 && !client.watching[sessionID] {
			continue
		}
		client.enqueue(raw)
	}
}

// shutdown closes every connection; the read loops unwind through
// Unregister as the closes land. Closing the send queues here instead
// would race frames still being routed.
func (h *Hub) shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.conn.Close()
	}
}
