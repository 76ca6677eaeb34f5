// Package api implements the UI-facing HTTP surface: sessions, queueing,
// chat history, settings, permission history and rules, remote tasks and
// image uploads. The hook-facing endpoints live in internal/hooks.
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/auth"
	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/images"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/session/store"
	"github.com/etwicaksono/droid-remote/internal/task"
)

const serverName = "droid-remote-bridge"
const serverVersion = "1.0.0"

// Handlers implements the UI endpoints.
type Handlers struct {
	cfg      *config.Config
	registry *registry.Registry
	engine   *permission.Engine
	perms    *permission.Store
	waits    *rendezvous.Queue
	notify   *notifier.Notifier
	executor *task.Executor
	tasks    *task.Store
	images   *images.Service
	tokens   *auth.TokenService
	logger   *logger.Logger

	// botConnected reports the bot adapter's link state for /health.
	// Nil when the bot surface is disabled.
	botConnected func() bool

	// draining guards against two concurrent queue drains per session.
	drainMu  sync.Mutex
	draining map[string]bool
}

// New creates the UI handlers.
func New(
	cfg *config.Config,
	reg *registry.Registry,
	engine *permission.Engine,
	perms *permission.Store,
	waits *rendezvous.Queue,
	notify *notifier.Notifier,
	executor *task.Executor,
	tasks *task.Store,
	imgs *images.Service,
	tokens *auth.TokenService,
	botConnected func() bool,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		registry:     reg,
		engine:       engine,
		perms:        perms,
		waits:        waits,
		notify:       notify,
		executor:     executor,
		tasks:        tasks,
		images:       imgs,
		tokens:       tokens,
		botConnected: botConnected,
		logger:       log.WithFields(zap.String("component", "api")),
		draining:     make(map[string]bool),
	}
}

// Register mounts the UI routes on a router group.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("/", h.root)
	g.GET("/health", h.health)

	g.POST("/auth/login", h.login)
	g.GET("/auth/verify", h.verifyToken)
	g.POST("/auth/refresh", h.refreshToken)

	g.GET("/sessions", h.listSessions)
	g.GET("/sessions/:id", h.getSession)
	g.PATCH("/sessions/:id/rename", h.renameSession)
	g.DELETE("/sessions/:id", h.deleteSession)
	g.POST("/sessions/:id/handoff", h.handoffSession)
	g.POST("/sessions/:id/release", h.releaseSession)

	g.GET("/sessions/:id/queue", h.getQueue)
	g.POST("/sessions/:id/queue", h.addToQueue)
	g.DELETE("/sessions/:id/queue", h.clearQueue)
	g.DELETE("/sessions/:id/queue/:msgId", h.cancelQueuedMessage)
	g.POST("/sessions/:id/queue/send-next", h.sendNextQueued)
	g.POST("/sessions/:id/queue/process", h.processQueue)

	g.GET("/sessions/:id/chat", h.getChat)
	g.POST("/sessions/:id/chat", h.addChatMessage)
	g.DELETE("/sessions/:id/chat", h.clearChat)
	g.GET("/sessions/:id/cli-thinking", h.getThinking)

	g.GET("/sessions/:id/settings", h.getSettings)
	g.PUT("/sessions/:id/settings", h.putSettings)

	g.GET("/sessions/:id/permissions", h.permissionHistory)
	g.POST("/sessions/:id/permissions/:requestId/resolve", h.resolvePermission)
	g.GET("/permissions", h.allPermissions)

	g.GET("/sessions/:id/events", h.sessionEvents)
	g.GET("/sessions/:id/timeline", h.sessionTimeline)
	g.GET("/sessions/:id/notifications", h.sessionNotifications)
	g.POST("/sessions/:id/notifications/read", h.markNotificationsRead)

	g.POST("/tasks/execute", h.executeTask)
	g.POST("/tasks/:taskId/cancel", h.cancelTask)
	g.GET("/tasks", h.taskHistory)
	g.GET("/tasks/failed", h.failedTasks)
	g.GET("/tasks/:projectDir/session", h.projectSession)
	g.DELETE("/tasks/:projectDir/session", h.clearProjectSession)

	g.GET("/allowlist", h.listRules)
	g.POST("/allowlist", h.addRule)
	g.DELETE("/allowlist/:ruleId", h.deleteRule)

	g.POST("/upload-image", h.uploadImage)
	g.POST("/delete-image", h.deleteImage)

	g.GET("/filesystem/browse", h.browseFilesystem)
}

func (h *Handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    serverName,
		"version": serverVersion,
		"status":  "running",
		"endpoints": gin.H{
			"health":   "/health",
			"sessions": "/sessions",
			"socket":   "/ws",
		},
	})
}

func (h *Handlers) health(c *gin.Context) {
	sessions, err := h.registry.Store().ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	active := 0
	for _, s := range sessions {
		if s.Status != models.StatusStopped {
			active++
		}
	}
	botUp := false
	if h.botConnected != nil {
		botUp = h.botConnected()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": active,
		"bot_connected":   botUp,
	})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
