package bot

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/stringutil"
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

const startText = "👋 *Droid Control Bot*\n\n" +
	"I'll notify you when your Droid sessions need attention.\n\n" +
	"*Commands:*\n" +
	"/sessions - List active sessions\n" +
	"/status - Check session status\n" +
	"/switch <name> - Switch active session\n" +
	"/done - End current session\n" +
	"/help - Show all commands\n\n" +
	"💡 Reply to notifications to send instructions to Droid!"

const helpText = "🤖 *Droid Control Commands*\n\n" +
	"*Session Management:*\n" +
	"/sessions - List all active sessions\n" +
	"/status [name] - Show status\n" +
	"/switch <name|number> - Set active session\n" +
	"/done - Signal session to stop\n" +
	"/stopall - Stop all sessions\n\n" +
	"*Communication:*\n" +
	"/broadcast <msg> - Send to all waiting\n" +
	"/<number> <msg> - Send to specific session\n\n" +
	"*Quick Actions:*\n" +
	"• Reply to notifications with text\n" +
	"• Use inline buttons for approve/deny\n" +
	"• Type 'approve' or 'deny' directly\n\n" +
	"*Examples:*\n" +
	"`/1 continue with tests`\n" +
	"`/switch backend-api`\n" +
	"`/broadcast fix all linting errors`"

// handleCommand parses "/name args". An unknown name with trailing text is
// session addressing: "/1 run the tests" sends to session 1.
func (s *Service) handleCommand(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := strings.TrimPrefix(fields[0], "/")
	// Group chats suffix commands with the bot username.
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	args := fields[1:]

	switch name {
	case "start":
		s.reply(chatID, startText, nil)
	case "help":
		s.reply(chatID, helpText, nil)
	case "sessions":
		s.cmdSessions(ctx, chatID)
	case "status":
		s.cmdStatus(ctx, chatID, args)
	case "switch":
		s.cmdSwitch(ctx, chatID, args)
	case "setproject":
		s.cmdSetProject(chatID, args)
	case "done":
		s.cmdDone(ctx, chatID)
	case "stopall":
		s.cmdStopAll(ctx, chatID)
	case "broadcast":
		s.cmdBroadcast(ctx, chatID, args)
	default:
		if len(args) > 0 {
			msg := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
			s.sendToSession(ctx, chatID, name, msg)
			return
		}
		s.reply(chatID, "Unknown command. /help lists everything I understand.", nil)
	}
}

func (s *Service) cmdSessions(ctx context.Context, chatID int64) {
	sessions, err := s.registry.Store().ListSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list sessions")
		s.reply(chatID, "Failed to list sessions", nil)
		return
	}
	if len(sessions) == 0 {
		s.reply(chatID, "📋 *No active sessions*", nil)
		return
	}

	lines := []string{"📋 *Active Sessions*", ""}
	for i, sess := range sessions {
		lines = append(lines, fmt.Sprintf("%d. %s `%s`", i+1, statusEmoji(sess.Status), sess.Name))
		lines = append(lines, "   └─ "+capitalize(string(sess.Status)))
		if pending := s.registry.PendingRequest(sess.ID); pending != nil {
			lines = append(lines, "   └─ ⚠️ Pending: "+string(pending.Type))
		}
	}
	lines = append(lines, "", "Use /switch <name> or reply with /<number> <message>")

	s.reply(chatID, strings.Join(lines, "\n"), sessionKeyboard(sessions))
}

func (s *Service) cmdStatus(ctx context.Context, chatID int64, args []string) {
	var sessions []*models.Session
	if len(args) > 0 {
		ref := strings.Join(args, " ")
		sess, err := s.registry.Resolve(ctx, ref)
		if err != nil {
			s.reply(chatID, "❌ Session not found: "+ref, nil)
			return
		}
		sessions = []*models.Session{sess}
	} else {
		var err error
		sessions, err = s.registry.Store().ListSessions(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to list sessions")
			s.reply(chatID, "Failed to list sessions", nil)
			return
		}
	}
	if len(sessions) == 0 {
		s.reply(chatID, "📋 *No active sessions*", nil)
		return
	}

	for _, sess := range sessions {
		msg := fmt.Sprintf("%s *%s*\n\n📁 `%s`\n🔄 Status: %s\n🕐 Last activity: %s",
			statusEmoji(sess.Status), sess.Name, sess.ProjectDir,
			sess.Status, sess.LastActivity().Format("15:04:05"))
		if pending := s.registry.PendingRequest(sess.ID); pending != nil {
			msg += "\n\n⚠️ *Pending Request:*\n" + stringutil.TruncateRunes(pending.Message, 200)
		}
		s.reply(chatID, msg, nil)
	}
}

func (s *Service) cmdSwitch(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		s.reply(chatID, "Usage: /switch <session_name|number>\n"+
			"Example: /switch backend-api\n"+
			"Example: /switch 1", nil)
		return
	}
	ref := strings.Join(args, " ")
	sess, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		s.reply(chatID, "❌ Session not found: "+ref, nil)
		return
	}

	s.mu.Lock()
	p, ok := s.chats[chatID]
	if !ok {
		p = &chatPrefs{}
		s.chats[chatID] = p
	}
	p.activeSession = sess.ID
	s.mu.Unlock()

	s.reply(chatID, fmt.Sprintf("✅ Active session: *%s*\n\n"+
		"All your messages will now be sent to this session.", sess.Name), nil)
}

func (s *Service) cmdSetProject(chatID int64, args []string) {
	p := s.prefs(chatID)
	if len(args) == 0 {
		s.mu.Lock()
		current := p.projectDir
		s.mu.Unlock()
		if current == "" {
			current = "Not set"
		}
		s.reply(chatID, "Current project: "+current+"\n\n"+
			"Usage: /setproject <path>\n"+
			"Example: /setproject /home/me/my-app", nil)
		return
	}

	dir := strings.Join(args, " ")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		s.reply(chatID, "Directory not found: "+dir, nil)
		return
	}

	s.mu.Lock()
	p.projectDir = dir
	s.mu.Unlock()

	s.reply(chatID, "Project directory set to:\n"+dir+"\n\n"+
		"New tasks will be executed in this directory.", nil)
}

// cmdDone signals the active (or first waiting) session to wrap up.
func (s *Service) cmdDone(ctx context.Context, chatID int64) {
	sess := s.targetSession(ctx, chatID)
	if sess == nil {
		s.reply(chatID, "❌ No active session to end", nil)
		return
	}

	s.waits.Deliver(sess.ID, "", "done")
	if err := s.registry.UpdateStatus(ctx, sess.ID, models.StatusStopped); err != nil {
		s.logger.WithError(err).Warn("Failed to mark session stopped",
			zap.String("session_id", sess.ID))
	}
	s.reply(chatID, fmt.Sprintf("✅ Sent 'done' to *%s*", sess.Name), nil)
}

func (s *Service) cmdStopAll(ctx context.Context, chatID int64) {
	sessions, err := s.registry.Store().ListSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list sessions")
		s.reply(chatID, "Failed to list sessions", nil)
		return
	}

	count := 0
	for _, sess := range sessions {
		if sess.Status == models.StatusStopped {
			continue
		}
		s.waits.Deliver(sess.ID, "", "done")
		if err := s.registry.UpdateStatus(ctx, sess.ID, models.StatusStopped); err != nil {
			s.logger.WithError(err).Warn("Failed to mark session stopped",
				zap.String("session_id", sess.ID))
		}
		count++
	}
	if count == 0 {
		s.reply(chatID, "📋 No active sessions to stop", nil)
		return
	}
	s.reply(chatID, fmt.Sprintf("✅ Stopped %d session(s)", count), nil)
}

func (s *Service) cmdBroadcast(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		s.reply(chatID, "Usage: /broadcast <message>\n"+
			"Sends the message to all waiting sessions.", nil)
		return
	}
	message := strings.Join(args, " ")

	waiting, err := s.waitingSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list sessions")
		s.reply(chatID, "Failed to list sessions", nil)
		return
	}
	if len(waiting) == 0 {
		s.reply(chatID, "No waiting sessions", nil)
		return
	}

	for _, sess := range waiting {
		s.waits.Deliver(sess.ID, "", message)
	}
	s.reply(chatID, fmt.Sprintf("Broadcast sent to %d session(s):\n%s", len(waiting), message), nil)
}

// sendToSession delivers a message to an explicitly addressed session.
func (s *Service) sendToSession(ctx context.Context, chatID int64, ref, message string) {
	sess, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		s.reply(chatID, "Session not found: "+ref, nil)
		return
	}
	s.deliverToSession(ctx, chatID, sess, message)
}

// deliverToSession wakes the session's pending wait with the message and
// flips it back to running.
func (s *Service) deliverToSession(ctx context.Context, chatID int64, sess *models.Session, message string) {
	s.waits.Deliver(sess.ID, "", message)
	if err := s.registry.UpdateStatus(ctx, sess.ID, models.StatusRunning); err != nil {
		s.logger.WithError(err).Warn("Failed to mark session running",
			zap.String("session_id", sess.ID))
	}
	s.reply(chatID, "Sent to "+sess.Name, nil)
}

// targetSession is the chat's active session, or the first waiting one.
func (s *Service) targetSession(ctx context.Context, chatID int64) *models.Session {
	s.mu.Lock()
	var activeID string
	if p, ok := s.chats[chatID]; ok {
		activeID = p.activeSession
	}
	s.mu.Unlock()

	if activeID != "" {
		sess, err := s.registry.Store().GetSession(ctx, activeID)
		if err == nil {
			return sess
		}
		// The remembered session is gone; forget it.
		s.mu.Lock()
		if p, ok := s.chats[chatID]; ok && p.activeSession == activeID {
			p.activeSession = ""
		}
		s.mu.Unlock()
	}

	waiting, err := s.waitingSessions(ctx)
	if err != nil || len(waiting) == 0 {
		return nil
	}
	return waiting[0]
}

func (s *Service) waitingSessions(ctx context.Context) ([]*models.Session, error) {
	sessions, err := s.registry.Store().ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var waiting []*models.Session
	for _, sess := range sessions {
		if sess.Status == models.StatusWaiting {
			waiting = append(waiting, sess)
		}
	}
	return waiting, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
