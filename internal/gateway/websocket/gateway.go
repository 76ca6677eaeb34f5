package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	ws "github.com/etwicaksono/droid-remote/pkg/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge is reached through the operator's own tunnel or LAN; origin
	// enforcement happens at the auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway upgrades HTTP connections and bridges bus events onto the hub.
type Gateway struct {
	hub    *Hub
	bus    bus.EventBus
	logger *logger.Logger

	subs []bus.Subscription
}

// NewGateway creates the gateway on an existing hub.
func NewGateway(hub *Hub, eventBus bus.EventBus, log *logger.Logger) *Gateway {
	return &Gateway{
		hub:    hub,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "ws_gateway")),
	}
}

// Start subscribes to the bus subjects and begins forwarding events.
func (g *Gateway) Start() error {
	broadcastSub, err := g.bus.Subscribe(events.SubjectBroadcast, func(ctx context.Context, event *bus.Event) error {
		g.forward(event, "")
		return nil
	})
	if err != nil {
		return err
	}
	g.subs = append(g.subs, broadcastSub)

	sessionSub, err := g.bus.Subscribe(events.AllSessionEvents, func(ctx context.Context, event *bus.Event) error {
		g.forward(event, event.SessionID())
		return nil
	})
	if err != nil {
		return err
	}
	g.subs = append(g.subs, sessionSub)
	return nil
}

// Stop drops the bus subscriptions.
func (g *Gateway) Stop() {
	for _, sub := range g.subs {
		_ = sub.Unsubscribe()
	}
	g.subs = nil
}

func (g *Gateway) forward(event *bus.Event, sessionID string) {
	msg, err := ws.NewNotification(event.Type, event.Data)
	if err != nil {
		g.logger.Error("Failed to build notification", zap.Error(err))
		return
	}
	if sessionID != "" {
		g.hub.BroadcastToSession(sessionID, msg)
		return
	}
	g.hub.Broadcast(msg)
}

// HandleConnection upgrades the request and starts the client pumps.
func (g *Gateway) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), conn, g.hub, g.logger)
	g.hub.Register(c.Request.Context(), client)

	// The request context dies when the handler returns; the pumps outlive it.
	go client.Run(context.Background())
}
