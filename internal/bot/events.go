package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/stringutil"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// onEvent consumes session-scoped bus events. Only the ones a human in chat
// cares about become messages; the high-frequency UI events are ignored.
func (s *Service) onEvent(ctx context.Context, event *bus.Event) error {
	switch event.Type {
	case events.Notification:
		s.onNotification(ctx, event)
	case events.TaskCompleted:
		s.onTaskCompleted(ctx, event)
	case events.PermissionResolved:
		s.onPermissionResolved(ctx, event)
	}
	return nil
}

// onNotification forwards an Agent prompt to the chat with the keyboard its
// type calls for, and records the message ID so the prompt can be edited in
// place once resolved.
func (s *Service) onNotification(ctx context.Context, event *bus.Event) {
	chatID := s.notifyTarget()
	if chatID == 0 {
		s.logger.Debug("No notification chat configured; dropping notification")
		return
	}

	sessionID := eventStr(event, "session_id")
	requestID := eventStr(event, "request_id")
	message := eventStr(event, "message")
	notifType := eventStr(event, "type")

	var keyboard [][]InlineButton
	switch notifType {
	case string(models.NotifyPermission):
		keyboard = permissionKeyboard(sessionID, requestID)
	case string(models.NotifyStop):
		keyboard = stopKeyboard(sessionID, requestID)
	default:
		if buttons := eventButtons(event); len(buttons) > 0 {
			keyboard = inlineKeyboard(buttons, sessionID, requestID)
		}
	}

	msgID, err := s.transport.Send(chatID, stringutil.TruncateRunes(message, outboundLimit), keyboard)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to deliver notification",
			zap.String("session_id", sessionID))
		return
	}
	if sessionID != "" {
		s.registry.SetExternalMessageID(ctx, sessionID, strconv.Itoa(msgID))
	}
}

// onTaskCompleted announces finished headless runs. Tasks started from this
// chat surface already edit their own status message and are skipped.
func (s *Service) onTaskCompleted(ctx context.Context, event *bus.Event) {
	if eventStr(event, "source") == "telegram" {
		return
	}
	chatID := s.notifyTarget()
	if chatID == 0 {
		return
	}
	taskID := eventStr(event, "task_id")
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load completed task",
			zap.String("task_id", taskID))
		return
	}

	emoji := "❌"
	if t.Success != nil && *t.Success {
		emoji = "✅"
	}
	result := t.Result
	if result == "" {
		result = t.Error
	}
	if result == "" {
		result = "(no output)"
	}

	parts := []string{
		emoji + " *Task Completed*",
		"📁 Project: `" + filepath.Base(t.ProjectDir) + "`",
		"💬 Prompt: _" + stringutil.TruncateRunes(t.Prompt, 100) + "_",
		"",
		"📝 *Result:*",
		escapeMarkdown(result),
	}
	if url := s.sessionURL(t.SessionID); url != "" {
		parts = append(parts, "", "🔗 [Open in Web UI]("+url+")")
	}

	s.reply(chatID, stringutil.TruncateRunes(strings.Join(parts, "\n"), outboundLimit), nil)
}

// onPermissionResolved edits the chat prompt in place when the decision came
// from another surface, so stale approve buttons disappear.
func (s *Service) onPermissionResolved(ctx context.Context, event *bus.Event) {
	decidedBy := eventStr(event, "decided_by")
	if decidedBy == "bot" {
		return
	}
	chatID := s.notifyTarget()
	if chatID == 0 {
		return
	}

	requestID := eventStr(event, "request_id")
	req, err := s.perms.GetRequest(ctx, requestID)
	if err != nil || req.ExternalMessageID == "" {
		return
	}
	messageID, err := strconv.Atoi(req.ExternalMessageID)
	if err != nil {
		return
	}

	decision := eventStr(event, "decision")
	text := "❌ Denied"
	if strings.HasPrefix(decision, permission.RequestApproved) {
		text = "✅ Approved"
	}
	if decidedBy != "" {
		text += fmt.Sprintf("\n\nDecided from %s", decidedBy)
	}
	if req.ToolName != "" {
		text += "\nTool: " + req.ToolName
	}
	s.edit(chatID, messageID, text, nil)
}

// sessionURL builds the deep link into the web UI, when one is configured.
func (s *Service) sessionURL(sessionID string) string {
	base := s.cfg.Server.WebUIURL
	if base == "" || sessionID == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/session/" + sessionID
}

// eventStr reads a string field from the event payload.
func eventStr(event *bus.Event, key string) string {
	if v, ok := event.Data[key].(string); ok {
		return v
	}
	return ""
}

// eventButtons decodes the buttons field. Payloads arrive either as typed
// values (in-memory bus) or as generic JSON (NATS), so decode through a
// marshal round trip.
func eventButtons(event *bus.Event) []models.Button {
	raw, ok := event.Data["buttons"]
	if !ok || raw == nil {
		return nil
	}
	if typed, ok := raw.([]models.Button); ok {
		return typed
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var buttons []models.Button
	if err := json.Unmarshal(encoded, &buttons); err != nil {
		return nil
	}
	return buttons
}

// escapeMarkdown neutralizes the characters Telegram's legacy Markdown mode
// treats as entity markers.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`")
	return r.Replace(s)
}
