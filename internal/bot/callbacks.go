package bot

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

// handleCallback resolves an inline button press. Callback data is
// action:session:request with IDs shortened to prefixes; the registry's
// prefix lookup recovers the session and the cached pending request recovers
// the full request ID.
func (s *Service) handleCallback(ctx context.Context, upd Update) {
	cb := upd.Callback
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) < 2 {
		s.answer(cb.ID, "", false)
		return
	}
	action, sessionRef := parts[0], parts[1]
	requestRef := ""
	if len(parts) > 2 {
		requestRef = parts[2]
	}

	sess, err := s.registry.Resolve(ctx, sessionRef)
	if err != nil {
		s.answer(cb.ID, "", false)
		s.edit(upd.ChatID, cb.MessageID, "Session no longer active", nil)
		return
	}
	requestID := s.fullRequestID(sess.ID, requestRef)

	switch action {
	case "approve":
		s.answer(cb.ID, "", false)
		s.resolvePermission(ctx, sess.ID, requestID, permission.RespondApprove)
		s.edit(upd.ChatID, cb.MessageID, "✅ Approved\n\nSession: "+sess.Name, nil)

	case "deny":
		s.answer(cb.ID, "", false)
		s.resolvePermission(ctx, sess.ID, requestID, permission.RespondDeny)
		s.edit(upd.ChatID, cb.MessageID, "❌ Denied\n\nSession: "+sess.Name, nil)

	case "approve_all":
		s.answer(cb.ID, "", false)
		s.resolvePermission(ctx, sess.ID, requestID, permission.RespondApproveAll)
		s.edit(upd.ChatID, cb.MessageID, "✅ Approved (auto-approve enabled)\n\nSession: "+sess.Name, nil)

	case "done":
		s.answer(cb.ID, "", false)
		s.waits.Deliver(sess.ID, requestID, "done")
		s.registry.ClearPendingRequest(sess.ID)
		if err := s.registry.UpdateStatus(ctx, sess.ID, models.StatusStopped); err != nil {
			s.logger.WithError(err).Warn("Failed to mark session stopped",
				zap.String("session_id", sess.ID))
		}
		s.edit(upd.ChatID, cb.MessageID, "✅ Session ended: "+sess.Name, nil)

	case "status":
		// Answer with an alert; the notification message stays in place.
		s.answer(cb.ID, "Status: "+string(sess.Status), true)

	case "select":
		s.answer(cb.ID, "", false)
		s.mu.Lock()
		p, ok := s.chats[upd.ChatID]
		if !ok {
			p = &chatPrefs{}
			s.chats[upd.ChatID] = p
		}
		p.activeSession = sess.ID
		p.projectDir = sess.ProjectDir
		s.mu.Unlock()
		s.edit(upd.ChatID, cb.MessageID, "Selected session: "+sess.Name+"\n\n"+
			"Project: "+sess.ProjectDir+"\n\n"+
			"Send a message to interact with this session.", nil)

	default:
		s.answer(cb.ID, "", false)
		s.logger.Debug("Unknown callback action",
			zap.String("action", action),
			zap.String("session_id", sess.ID))
	}
}

// resolvePermission applies a button decision. With the full request ID the
// permission engine records the audit trail and materializes rules; without
// it the raw response word wakes the oldest waiter and the audit row stays
// as the timeout left it.
func (s *Service) resolvePermission(ctx context.Context, sessionID, requestID, response string) {
	if requestID != "" {
		_, err := s.engine.Resolve(ctx, requestID, response, "bot")
		if err == nil {
			s.registry.ClearPendingRequest(sessionID)
			return
		}
		s.logger.WithError(err).Warn("Failed to resolve permission request",
			zap.String("request_id", requestID))
	}
	s.waits.Deliver(sessionID, "", response)
	s.registry.ClearPendingRequest(sessionID)
}

// fullRequestID expands a callback's request prefix using the session's
// cached pending request. Empty when nothing matches; delivery then falls
// back to the oldest waiter.
func (s *Service) fullRequestID(sessionID, requestRef string) string {
	if requestRef == "" {
		return ""
	}
	pending := s.registry.PendingRequest(sessionID)
	if pending != nil && strings.HasPrefix(pending.ID, requestRef) {
		return pending.ID
	}
	return ""
}

func (s *Service) answer(callbackID, text string, alert bool) {
	if err := s.transport.AnswerCallback(callbackID, text, alert); err != nil {
		s.logger.WithError(err).Debug("Failed to answer callback")
	}
}
