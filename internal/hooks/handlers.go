// Package hooks is the HTTP surface consumed by the Agent's lifecycle
// scripts: registration, status patches, notify/wait rendezvous and the
// allowlist pre-check.
package hooks

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

// Handlers implements the /hooks/* endpoints.
type Handlers struct {
	registry *registry.Registry
	engine   *permission.Engine
	waits    *rendezvous.Queue
	notify   *notifier.Notifier
	timeouts config.TimeoutConfig
	logger   *logger.Logger
}

// New creates the hook handlers.
func New(reg *registry.Registry, engine *permission.Engine, waits *rendezvous.Queue, notify *notifier.Notifier, timeouts config.TimeoutConfig, log *logger.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		engine:   engine,
		waits:    waits,
		notify:   notify,
		timeouts: timeouts,
		logger:   log.WithFields(zap.String("component", "hooks")),
	}
}

// Register mounts the hook routes on a router group.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.POST("/sessions/register", h.registerSession)
	g.PATCH("/sessions/:id", h.patchSession)
	g.POST("/sessions/:id/notify", h.notifySession)
	g.POST("/sessions/:id/wait", h.waitForResponse)
	g.GET("/sessions/:id/response/:requestId", h.pollResponse)
	g.POST("/sessions/:id/respond", h.respond)
	g.POST("/sessions/:id/cli-thinking", h.cliThinking)
	g.GET("/allowlist/check", h.allowlistCheck)
}

type registerRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	ProjectDir  string `json:"project_dir" binding:"required"`
	SessionName string `json:"session_name"`
}

func (h *Handlers) registerSession(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.registry.Register(c.Request.Context(), req.SessionID, req.ProjectDir, req.SessionName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

type patchRequest struct {
	Status         string                 `json:"status"`
	PendingRequest map[string]interface{} `json:"pending_request"`
	ClearPending   bool                   `json:"clear_pending"`
	TranscriptPath string                 `json:"transcript_path"`
}

func (h *Handlers) patchSession(c *gin.Context) {
	sessionID := c.Param("id")
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if req.Status != "" {
		status := models.SessionStatus(req.Status)
		if err := h.registry.UpdateStatus(ctx, sessionID, status); err != nil {
			writeStoreError(c, err)
			return
		}
		if status == models.StatusWaiting || status == models.StatusStopped {
			h.notify.Emit(ctx, sessionID, events.CLIThinkingDone, nil)
		}
	}
	if req.TranscriptPath != "" {
		if err := h.registry.Store().UpdateTranscriptPath(ctx, sessionID, req.TranscriptPath); err != nil {
			writeStoreError(c, err)
			return
		}
	}
	if req.ClearPending {
		h.registry.ClearPendingRequest(sessionID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type notifyRequest struct {
	SessionName string          `json:"session_name"`
	Message     string          `json:"message" binding:"required"`
	Type        string          `json:"type"`
	Buttons     []models.Button `json:"buttons"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
}

// notifySession installs a pending request and fans it out; the hook follows
// up with /wait under the returned request_id.
func (h *Handlers) notifySession(c *gin.Context) {
	sessionID := c.Param("id")
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}

	notifyType := models.NotificationType(req.Type)
	if notifyType == "" {
		notifyType = models.NotifyInfo
	}
	pending := &models.PendingRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      notifyType,
		Message:   req.Message,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		Buttons:   req.Buttons,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.registry.SetPendingRequest(ctx, sessionID, pending); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// A stop notify means the CLI finished its turn and is parked on input.
	// Refused when the remote side already holds the session.
	if notifyType == models.NotifyStop {
		if err := h.registry.UpdateControlState(ctx, sessionID, models.ControlCLIWaiting); err != nil &&
			!errors.Is(err, registry.ErrInvalidTransition) {
			h.logger.WithError(err).Warn("Failed to mark session waiting",
				zap.String("session_id", sessionID))
		}
	}

	h.notify.Emit(ctx, sessionID, events.CLIThinkingDone, nil)
	h.notify.Emit(ctx, sessionID, events.Notification, map[string]interface{}{
		"request_id":   pending.ID,
		"session_name": req.SessionName,
		"type":         string(notifyType),
		"message":      req.Message,
		"tool_name":    req.ToolName,
		"buttons":      pending.Buttons,
	})
	if err := h.registry.Store().AddNotification(ctx, &models.Notification{
		SessionID: sessionID,
		Type:      notifyType,
		Title:     req.SessionName,
		Message:   req.Message,
	}); err != nil {
		h.logger.WithError(err).Warn("Failed to persist notification",
			zap.String("session_id", sessionID))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "request_id": pending.ID})
}

type waitRequest struct {
	RequestID string  `json:"request_id"`
	Timeout   float64 `json:"timeout"`
}

func (h *Handlers) waitForResponse(c *gin.Context) {
	sessionID := c.Param("id")
	var req waitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	askID, isAsk := permissionAsk(h.registry.PendingRequest(sessionID), req.RequestID)

	timeout := time.Duration(req.Timeout * float64(time.Second))
	if req.Timeout <= 0 {
		if isAsk {
			timeout = h.timeouts.PermissionDuration()
		} else {
			timeout = h.timeouts.DefaultDuration()
		}
	}

	response, outcome := h.waits.Wait(c.Request.Context(), sessionID, req.RequestID, timeout)
	switch outcome {
	case rendezvous.OutcomeDelivered:
		h.registry.ClearPendingRequest(sessionID)
		c.JSON(http.StatusOK, gin.H{"response": response, "timeout": false, "has_response": true})
	case rendezvous.OutcomeCancelled:
		c.JSON(http.StatusOK, gin.H{"response": nil, "timeout": false, "has_response": false, "cancelled": true})
	default:
		if isAsk {
			h.engine.ResolveTimeout(c.Request.Context(), askID)
		}
		c.JSON(http.StatusOK, gin.H{"response": nil, "timeout": true, "has_response": false})
	}
}

// permissionAsk reports whether a wait is parked on the session's pending
// permission ask and returns the audit row ID. A wait without a request ID
// binds to whatever is pending.
func permissionAsk(pending *models.PendingRequest, requestID string) (string, bool) {
	if pending == nil || pending.Type != models.NotifyPermission {
		return "", false
	}
	if requestID != "" && requestID != pending.ID {
		return "", false
	}
	return pending.ID, true
}

// pollResponse is the non-blocking probe for a parked response.
func (h *Handlers) pollResponse(c *gin.Context) {
	sessionID := c.Param("id")
	requestID := c.Param("requestId")

	if response, ok := h.waits.TakeParked(sessionID, requestID); ok {
		h.registry.ClearPendingRequest(sessionID)
		c.JSON(http.StatusOK, gin.H{"response": response, "timeout": false, "has_response": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": nil, "timeout": false, "has_response": false})
}

type respondRequest struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response" binding:"required"`
}

func (h *Handlers) respond(c *gin.Context) {
	sessionID := c.Param("id")
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.waits.Deliver(sessionID, req.RequestID, req.Response)
	h.registry.ClearPendingRequest(sessionID)
	h.notify.Emit(c.Request.Context(), sessionID, events.ResponseDelivered, map[string]interface{}{
		"request_id": req.RequestID,
		"response":   req.Response,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type cliThinkingRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// cliThinking mirrors the CLI user's prompt into the chat history and shows
// the spinner on the remote surfaces.
func (h *Handlers) cliThinking(c *gin.Context) {
	sessionID := c.Param("id")
	var req cliThinkingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if err := h.registry.Store().AddChatMessage(ctx, &models.ChatMessage{
		SessionID: sessionID,
		Type:      "user",
		Content:   req.Prompt,
		Source:    "cli",
	}); err != nil {
		writeStoreError(c, err)
		return
	}

	h.notify.Emit(ctx, sessionID, events.CLIThinking, map[string]interface{}{
		"prompt": req.Prompt,
	})
	h.notify.Emit(ctx, sessionID, events.ChatUpdated, nil)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// allowlistCheck is the hook's fast path: a stored rule answers without
// involving a human.
func (h *Handlers) allowlistCheck(c *gin.Context) {
	toolName := c.Query("tool_name")
	if toolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool_name is required"})
		return
	}
	var toolInput json.RawMessage
	if raw := c.Query("tool_input"); raw != "" {
		toolInput = json.RawMessage(raw)
	}
	sessionID := c.Query("session_id")

	decision, err := h.engine.Evaluate(c.Request.Context(), sessionID, toolName, toolInput)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":  decision == permission.DecisionAllow,
		"denied":   decision == permission.DecisionDeny,
		"decision": string(decision),
	})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
