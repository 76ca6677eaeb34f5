package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/constants"
	"github.com/etwicaksono/droid-remote/internal/common/stringutil"
	"github.com/etwicaksono/droid-remote/internal/session/store"
	"github.com/etwicaksono/droid-remote/internal/task"
)

// resultPreviewLen bounds the inline result echoed by synchronous queue
// sends; the full text is in the task row and the chat history.
const resultPreviewLen = 500

type executeTaskRequest struct {
	SessionID       string `json:"session_id"`
	ProjectDir      string `json:"project_dir" binding:"required"`
	Prompt          string `json:"prompt" binding:"required"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort"`
	AutonomyLevel   string `json:"autonomy_level"`
	Stream          bool   `json:"stream"`
	Fresh           bool   `json:"fresh"`
}

// executeTask starts a headless Agent run and returns immediately; the
// result arrives as a task_completed event.
func (h *Handlers) executeTask(c *gin.Context) {
	var req executeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.projectDirAllowed(req.ProjectDir) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_dir is outside the configured roots"})
		return
	}

	t, err := h.executor.Execute(c.Request.Context(), &task.ExecuteRequest{
		SessionID:       req.SessionID,
		ProjectDir:      req.ProjectDir,
		Prompt:          req.Prompt,
		Model:           req.Model,
		ReasoningEffort: req.ReasoningEffort,
		AutonomyLevel:   req.AutonomyLevel,
		Source:          "api",
		Stream:          req.Stream,
		Fresh:           req.Fresh,
	})
	if err != nil {
		if errors.Is(err, task.ErrSessionBusy) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "CLI session is active. Use the CLI to continue, or close it first.",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":    t.ID,
		"session_id": t.SessionID,
		"status":     string(t.Status),
	})
}

func (h *Handlers) cancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if !h.executor.Cancel(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found or not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task cancelled"})
}

func (h *Handlers) taskHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter := task.Filter{
		SessionID:   c.Query("session_id"),
		Source:      c.Query("source"),
		SuccessOnly: c.Query("success_only") == "true",
		Limit:       limit,
	}
	tasks, err := h.tasks.ListTasks(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *Handlers) failedTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tasks, err := h.tasks.ListTasks(c.Request.Context(), task.Filter{FailedOnly: true, Limit: limit})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// projectSession returns the remembered Agent session for a project
// directory. The directory arrives URL-escaped as one path segment.
func (h *Handlers) projectSession(c *gin.Context) {
	dir := projectDirParam(c)
	sessionID := h.executor.SessionFor(dir)
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

func (h *Handlers) clearProjectSession(c *gin.Context) {
	dir := projectDirParam(c)
	cleared := h.executor.SessionFor(dir) != ""
	h.executor.ClearSession(dir)
	c.JSON(http.StatusOK, gin.H{"success": cleared})
}

func projectDirParam(c *gin.Context) string {
	dir := c.Param("projectDir")
	// With UseRawPath the router hands over the unescaped value already;
	// a still-encoded value means the client escaped twice.
	if strings.Contains(dir, "%") {
		if decoded, err := url.PathUnescape(dir); err == nil {
			dir = decoded
		}
	}
	return dir
}

// projectDirAllowed enforces the configured execution roots. No roots
// configured means any absolute path is accepted.
func (h *Handlers) projectDirAllowed(dir string) bool {
	if len(h.cfg.Server.ProjectDirs) == 0 {
		return filepath.IsAbs(dir)
	}
	clean := filepath.Clean(dir)
	for _, root := range h.cfg.Server.ProjectDirs {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Queue execution endpoints.

// sendNextQueued pops the oldest buffered message and runs it synchronously,
// echoing a result preview. The session must be under remote control.
func (h *Handlers) sendNextQueued(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	sess, err := h.registry.Store().GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	ok, err := h.registry.CanExecuteRemoteTask(ctx, sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "session not under remote control (state: " + string(sess.ControlState) + ")",
		})
		return
	}

	msg, err := h.registry.Store().NextQueuedMessage(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "no messages in queue"})
		return
	}
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if err := h.registry.MarkMessageSent(ctx, sessionID, msg.ID); err != nil {
		writeStoreError(c, err)
		return
	}

	t, err := h.executor.ExecuteSync(ctx, &task.ExecuteRequest{
		SessionID:  sessionID,
		ProjectDir: sess.ProjectDir,
		Prompt:     msg.Content,
		Source:     "queue",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": msg,
		"result": gin.H{
			"task_id": t.ID,
			"status":  string(t.Status),
			"result":  stringutil.TruncateRunes(t.Result, resultPreviewLen),
		},
	})
}

// processQueue drains the whole queue in the background, strictly in order.
// Each message becomes one synchronous Agent run so the next one resumes
// from the session the previous run persisted.
func (h *Handlers) processQueue(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	sess, err := h.registry.Store().GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	ok, err := h.registry.CanExecuteRemoteTask(ctx, sessionID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "session not under remote control (state: " + string(sess.ControlState) + ")",
		})
		return
	}

	count, err := h.registry.Store().QueueCount(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if count == 0 {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "no messages in queue"})
		return
	}
	if !h.startDrain(sessionID) {
		c.JSON(http.StatusConflict, gin.H{"error": "queue drain already in progress"})
		return
	}

	go h.drainQueue(sessionID, sess.ProjectDir)
	c.JSON(http.StatusOK, gin.H{"success": true, "processing": count})
}

func (h *Handlers) startDrain(sessionID string) bool {
	h.drainMu.Lock()
	defer h.drainMu.Unlock()
	if h.draining[sessionID] {
		return false
	}
	h.draining[sessionID] = true
	return true
}

func (h *Handlers) drainQueue(sessionID, projectDir string) {
	defer func() {
		h.drainMu.Lock()
		delete(h.draining, sessionID)
		h.drainMu.Unlock()
	}()
	ctx := context.Background()

	for {
		ok, err := h.registry.CanExecuteRemoteTask(ctx, sessionID)
		if err != nil || !ok {
			return
		}
		msg, err := h.registry.Store().NextQueuedMessage(ctx, sessionID)
		if err != nil {
			return
		}
		if err := h.registry.MarkMessageSent(ctx, sessionID, msg.ID); err != nil {
			h.logger.WithError(err).Warn("Failed to mark queued message sent",
				zap.Int64("message_id", msg.ID))
			return
		}

		t, err := h.executor.ExecuteSync(ctx, &task.ExecuteRequest{
			SessionID:  sessionID,
			ProjectDir: projectDir,
			Prompt:     msg.Content,
			Source:     "queue",
		})
		if err != nil {
			h.logger.WithError(err).Warn("Queue drain stopped on execution error",
				zap.String("session_id", sessionID))
			return
		}
		if t.Status != task.StatusCompleted {
			h.logger.Warn("Queue drain stopped on failed task",
				zap.String("session_id", sessionID),
				zap.String("task_id", t.ID),
				zap.String("status", string(t.Status)))
			return
		}
		time.Sleep(constants.QueueDrainPause)
	}
}
