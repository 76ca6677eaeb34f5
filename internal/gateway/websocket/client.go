package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	ws "github.com/etwicaksono/droid-remote/pkg/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second // must fire well before pongTimeout lapses
	readLimit    = 512 * 1024
	sendBacklog  = 256
)

// Client is one connected UI socket. Frames it sends are routed through the
// hub's dispatcher; frames pushed to it are queued on a bounded channel that
// the write loop drains.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub

	send chan []byte

	// Sessions this client narrowed to. Empty means the dashboard view,
	// which receives every session's events. Guarded by the hub's lock.
	watching map[string]bool

	logger *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBacklog),
		watching: make(map[string]bool),
		logger:   log.WithFields(zap.String("client_id", id)),
	}
}

// Run services the connection until the peer goes away or the hub shuts the
// client down. It owns both pump goroutines.
func (c *Client) Run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error("Failed to parse frame", zap.Error(err))
			c.pushErr("", "", ws.ErrorCodeBadRequest, "Invalid message format", nil)
			continue
		}
		c.route(ctx, &msg)
	}
}

// route hands the frame to the dispatcher, except for the two scope actions,
// which need the client itself.
func (c *Client) route(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("Received frame",
		zap.String("action", msg.Action),
		zap.String("id", msg.ID))

	switch msg.Action {
	case ws.ActionSessionSubscribe:
		c.setScope(msg, true)
		return
	case ws.ActionSessionUnsubscribe:
		c.setScope(msg, false)
		return
	}

	reply, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Error("Handler error",
			zap.String("action", msg.Action),
			zap.Error(err))
		c.pushErr(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	if reply != nil {
		c.push(reply)
	}
}

// ScopeRequest narrows or widens which sessions the client watches.
type ScopeRequest struct {
	SessionID string `json:"session_id"`
}

func (c *Client) setScope(msg *ws.Message, watch bool) {
	var req ScopeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.pushErr(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}
	if req.SessionID == "" {
		c.pushErr(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
		return
	}

	if watch {
		c.hub.Watch(c, req.SessionID)
	} else {
		c.hub.Unwatch(c, req.SessionID)
	}

	reply, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":    true,
		"session_id": req.SessionID,
	})
	c.push(reply)
}

// push marshals a frame onto the send queue.
func (c *Client) push(msg *ws.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal frame", zap.Error(err))
		return
	}
	c.enqueue(raw)
}

// enqueue drops the frame when the queue is full; a peer that stops draining
// gets torn down by the write loop's deadline soon after.
func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("Send queue full, dropping frame")
	}
}

func (c *Client) pushErr(id, action, code, message string, details map[string]interface{}) {
	frame, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("Failed to build error frame", zap.Error(err))
		return
	}
	c.push(frame)
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
