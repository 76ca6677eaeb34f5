package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

func (h *Handlers) listSessions(c *gin.Context) {
	payload, err := h.notify.SessionsPayload(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handlers) getSession(c *gin.Context) {
	sess, err := h.registry.Store().GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) renameSession(c *gin.Context) {
	sessionID := c.Param("id")

	// The name arrives either as a query parameter or a JSON body.
	name := c.Query("name")
	if name == "" {
		var req renameRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			name = req.Name
		}
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if err := h.registry.Rename(c.Request.Context(), sessionID, name); err != nil {
		writeStoreError(c, err)
		return
	}
	sess, err := h.registry.Store().GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

func (h *Handlers) deleteSession(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) handoffSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.registry.HandoffToRemote(c.Request.Context(), sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	sess, err := h.registry.Store().GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

func (h *Handlers) releaseSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.registry.ReleaseToCLI(c.Request.Context(), sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	sess, err := h.registry.Store().GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// Queue endpoints.

func (h *Handlers) getQueue(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	messages, err := h.registry.Store().ListQueuedMessages(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

type queueRequest struct {
	Content string `json:"content" binding:"required"`
	Source  string `json:"source"`
}

func (h *Handlers) addToQueue(c *gin.Context) {
	sessionID := c.Param("id")
	var req queueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = "web"
	}
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	msg, err := h.registry.QueueMessage(ctx, sessionID, req.Content, req.Source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handlers) cancelQueuedMessage(c *gin.Context) {
	sessionID := c.Param("id")
	messageID, err := strconv.ParseInt(c.Param("msgId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	if err := h.registry.CancelQueuedMessage(c.Request.Context(), sessionID, messageID); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) clearQueue(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	count, err := h.registry.ClearQueue(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared_count": count})
}

// Chat endpoints.

func (h *Handlers) getChat(c *gin.Context) {
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	ctx := c.Request.Context()

	messages, err := h.registry.Store().ListChatMessages(ctx, sessionID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.registry.Store().CountChatMessages(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
		"total":      total,
		"has_more":   offset+len(messages) < total,
		"offset":     offset,
		"limit":      limit,
	})
}

type chatMessageRequest struct {
	Type       string `json:"type" binding:"required"`
	Content    string `json:"content" binding:"required"`
	Status     string `json:"status"`
	DurationMS *int64 `json:"duration_ms"`
	NumTurns   *int   `json:"num_turns"`
	Source     string `json:"source"`
}

func (h *Handlers) addChatMessage(c *gin.Context) {
	sessionID := c.Param("id")
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = "web"
	}
	ctx := c.Request.Context()

	msg := &models.ChatMessage{
		SessionID:  sessionID,
		Type:       req.Type,
		Content:    req.Content,
		Status:     req.Status,
		DurationMS: req.DurationMS,
		NumTurns:   req.NumTurns,
		Source:     req.Source,
	}
	if err := h.registry.Store().AddChatMessage(ctx, msg); err != nil {
		writeStoreError(c, err)
		return
	}

	h.notify.Emit(ctx, sessionID, events.ChatUpdated, map[string]interface{}{
		"message": msg,
	})
	// An assistant reply from the CLI means the prompt finished processing.
	if req.Type == "assistant" && req.Source == "cli" {
		h.registry.SetThinking(sessionID, false)
		h.notify.Emit(ctx, sessionID, events.CLIThinkingDone, nil)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handlers) clearChat(c *gin.Context) {
	count, err := h.registry.Store().ClearChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": count})
}

func (h *Handlers) getThinking(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"thinking": h.registry.Thinking(c.Param("id"))})
}

// Settings endpoints.

func (h *Handlers) getSettings(c *gin.Context) {
	sessionID := c.Param("id")
	settings, err := h.registry.Store().GetSettings(c.Request.Context(), sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if settings.Model == "" {
		settings.Model = h.cfg.Agent.DefaultModel
	}
	if settings.ReasoningEffort == "" {
		settings.ReasoningEffort = h.cfg.Agent.DefaultReasoningEffort
	}
	c.JSON(http.StatusOK, settings)
}

type settingsRequest struct {
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort"`
	AutonomyLevel   string `json:"autonomy_level"`
}

func (h *Handlers) putSettings(c *gin.Context) {
	sessionID := c.Param("id")
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	settings := &models.SessionSettings{
		SessionID:       sessionID,
		Model:           req.Model,
		ReasoningEffort: req.ReasoningEffort,
		AutonomyLevel:   req.AutonomyLevel,
	}
	if err := h.registry.Store().PutSettings(ctx, settings); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

// Permission history endpoints.

func (h *Handlers) permissionHistory(c *gin.Context) {
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	requests, err := h.perms.ListRequests(ctx, sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "permissions": requests})
}

func (h *Handlers) allPermissions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	requests, err := h.perms.ListRequests(c.Request.Context(), "", limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": requests})
}

type resolveRequest struct {
	Decision string `json:"decision" binding:"required"`
}

func (h *Handlers) resolvePermission(c *gin.Context) {
	sessionID := c.Param("id")
	requestID := c.Param("requestId")
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var response string
	switch req.Decision {
	case "approved":
		response = "approve"
	case "denied":
		response = "deny"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be 'approved' or 'denied'"})
		return
	}

	perm, err := h.engine.Resolve(ctx, requestID, response, "web")
	if err != nil {
		writeStoreError(c, err)
		return
	}
	h.registry.ClearPendingRequest(sessionID)
	c.JSON(http.StatusOK, gin.H{"success": true, "permission": perm})
}

// Troubleshooting endpoints.

func (h *Handlers) sessionEvents(c *gin.Context) {
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	list, err := h.registry.Store().ListEvents(ctx, sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "events": list})
}

func (h *Handlers) sessionTimeline(c *gin.Context) {
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ctx := c.Request.Context()

	if _, err := h.registry.Store().GetSession(ctx, sessionID); err != nil {
		writeStoreError(c, err)
		return
	}
	timeline, err := h.registry.Store().Timeline(ctx, sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "timeline": timeline})
}

func (h *Handlers) sessionNotifications(c *gin.Context) {
	sessionID := c.Param("id")
	unreadOnly := c.Query("unread") == "true"

	list, err := h.registry.Store().ListNotifications(c.Request.Context(), sessionID, unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "notifications": list})
}

func (h *Handlers) markNotificationsRead(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.registry.Store().MarkNotificationsRead(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
