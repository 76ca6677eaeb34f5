package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/stringutil"
	"github.com/etwicaksono/droid-remote/internal/task"
)

// outboundLimit keeps composed messages under Telegram's 4096-char cap with
// headroom for the header lines.
const outboundLimit = 4000

// handleMessage routes free-form text: to the chat's active session, else to
// the first waiting session, else it becomes a fresh headless task.
func (s *Service) handleMessage(ctx context.Context, chatID int64, text string) {
	if sess := s.targetSession(ctx, chatID); sess != nil {
		s.deliverToSession(ctx, chatID, sess, text)
		return
	}
	s.executeNewTask(ctx, chatID, text)
}

// executeNewTask spawns a headless Agent run for the chat's project
// directory. A fresh session is forced: free-form chat has no session
// context to resume.
func (s *Service) executeNewTask(ctx context.Context, chatID int64, prompt string) {
	projectDir := s.taskProjectDir(ctx, chatID)
	if projectDir == "" {
		s.reply(chatID, "No project directory set. Use /setproject <path> first.", nil)
		return
	}

	statusMsg := s.reply(chatID, fmt.Sprintf("Executing task in: %s\n\nPrompt: %s",
		projectDir, stringutil.TruncateRunes(prompt, 100)), nil)

	req := &task.ExecuteRequest{
		ProjectDir:    projectDir,
		Prompt:        prompt,
		AutonomyLevel: "high",
		Source:        "telegram",
		Fresh:         true,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t, err := s.executor.ExecuteSync(ctx, req)
		if err != nil {
			s.edit(chatID, statusMsg, "Task execution failed: "+err.Error(), nil)
			return
		}

		var text string
		if t.Success != nil && *t.Success {
			text = fmt.Sprintf("Task completed (%dms)\n\n%s", t.DurationMS, t.Result)
		} else {
			errText := t.Error
			if errText == "" {
				errText = "Unknown error"
			}
			text = "Task failed\n\nError: " + errText
		}
		s.edit(chatID, statusMsg, stringutil.TruncateRunes(text, outboundLimit), nil)
	}()
}

// taskProjectDir picks the directory for a fresh task: the chat's configured
// project, else the most recently registered session's project.
func (s *Service) taskProjectDir(ctx context.Context, chatID int64) string {
	s.mu.Lock()
	if p, ok := s.chats[chatID]; ok && p.projectDir != "" {
		dir := p.projectDir
		s.mu.Unlock()
		return dir
	}
	s.mu.Unlock()

	sessions, err := s.registry.Store().ListSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list sessions", zap.Int64("chat_id", chatID))
		return ""
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].ProjectDir != "" {
			return sessions[i].ProjectDir
		}
	}
	return ""
}
