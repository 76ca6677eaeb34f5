// Package registry is the session control plane: registration, status and
// control-state transitions, the in-memory pending-request cache, and the
// per-session message queue. Every mutation emits exactly one event through
// the notifier.
package registry

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

// ErrInvalidTransition is returned for control-state changes the transition
// table refuses. The session is left unchanged and no event is emitted.
var ErrInvalidTransition = errors.New("invalid control state transition")

// Registry coordinates session state. DB mutations go through the
// single-writer store; the pending-request cache is guarded by a mutex held
// only for map updates, never across I/O.
type Registry struct {
	store  *store.Store
	perms  *permission.Store
	waits  *rendezvous.Queue
	notify *notifier.Notifier
	logger *logger.Logger

	mu       sync.Mutex
	pending  map[string]*models.PendingRequest // session_id -> at most one
	thinking map[string]bool
}

// New creates the registry.
func New(st *store.Store, perms *permission.Store, waits *rendezvous.Queue, notify *notifier.Notifier, log *logger.Logger) *Registry {
	return &Registry{
		store:    st,
		perms:    perms,
		waits:    waits,
		notify:   notify,
		logger:   log.WithFields(zap.String("component", "registry")),
		pending:  make(map[string]*models.PendingRequest),
		thinking: make(map[string]bool),
	}
}

// Register creates a session or refreshes an existing one. Idempotent:
// re-registering preserves the display name and creates no duplicate. A
// session re-registering from released hands control back to the CLI.
func (r *Registry) Register(ctx context.Context, sessionID, projectDir, name string) (*models.Session, error) {
	existing, err := r.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if err := r.store.UpdateSessionStatus(ctx, sessionID, models.StatusRunning); err != nil {
			return nil, err
		}
		if existing.ControlState == models.ControlReleased {
			if err := r.store.UpdateControlState(ctx, sessionID, models.ControlCLIActive); err != nil {
				return nil, err
			}
		}
		sess, err := r.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		r.notify.SessionsUpdate(ctx)
		return sess, nil
	}

	sess := &models.Session{
		ID:         sessionID,
		Name:       name,
		ProjectDir: projectDir,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := r.store.AddEvent(ctx, sessionID, "registered", map[string]string{
		"project_dir": projectDir,
		"name":        sess.Name,
	}); err != nil {
		r.logger.WithError(err).Warn("Failed to log registration event",
			zap.String("session_id", sessionID))
	}

	r.logger.Info("Session registered",
		zap.String("session_id", sessionID),
		zap.String("name", sess.Name),
		zap.String("project_dir", projectDir))
	r.notify.SessionsUpdate(ctx)
	return sess, nil
}

// UpdateStatus records the last observed Agent state and logs an event.
func (r *Registry) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if err := r.store.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		return err
	}
	if err := r.store.AddEvent(ctx, sessionID, "status_changed", map[string]string{
		"status": string(status),
	}); err != nil {
		r.logger.WithError(err).Warn("Failed to log status event",
			zap.String("session_id", sessionID))
	}
	r.notify.SessionsUpdate(ctx)
	return nil
}

// UpdateControlState validates the transition and applies it. Illegal
// transitions return ErrInvalidTransition without touching state or
// emitting an event. A same-state transition is a quiet no-op.
func (r *Registry) UpdateControlState(ctx context.Context, sessionID string, state models.ControlState) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.ControlState == state {
		return nil
	}
	if !models.CanTransition(sess.ControlState, state) {
		r.logger.Debug("Refused control state transition",
			zap.String("session_id", sessionID),
			zap.String("from", string(sess.ControlState)),
			zap.String("to", string(state)))
		return ErrInvalidTransition
	}

	if err := r.store.UpdateControlState(ctx, sessionID, state); err != nil {
		return err
	}
	if err := r.store.AddEvent(ctx, sessionID, "control_state_changed", map[string]string{
		"control_state": string(state),
	}); err != nil {
		r.logger.WithError(err).Warn("Failed to log control state event",
			zap.String("session_id", sessionID))
	}

	r.notify.Emit(ctx, sessionID, events.SessionStateChanged, map[string]interface{}{
		"control_state": string(state),
	})
	r.notify.SessionsUpdate(ctx)
	return nil
}

// HandoffToRemote gives control of a session to the remote surfaces.
// Permitted from cli_active, cli_waiting and released.
func (r *Registry) HandoffToRemote(ctx context.Context, sessionID string) error {
	return r.UpdateControlState(ctx, sessionID, models.ControlRemoteActive)
}

// ReleaseToCLI gives control back to the CLI. Permitted only from
// remote_active.
func (r *Registry) ReleaseToCLI(ctx context.Context, sessionID string) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.ControlState != models.ControlRemoteActive {
		return ErrInvalidTransition
	}
	return r.UpdateControlState(ctx, sessionID, models.ControlReleased)
}

// SetPendingRequest installs the session's single outstanding question.
// Permission-typed requests are mirrored into the audit table. A previous
// pending request is superseded: its rendezvous waiter observes a
// cancellation when the new request takes its place.
func (r *Registry) SetPendingRequest(ctx context.Context, sessionID string, req *models.PendingRequest) error {
	r.mu.Lock()
	prev := r.pending[sessionID]
	r.pending[sessionID] = req
	r.mu.Unlock()

	if prev != nil && req != nil && prev.ID != req.ID {
		r.waits.CancelAll(sessionID)
	}

	if req != nil && req.Type == models.NotifyPermission {
		if err := r.perms.CreateRequest(ctx, &permission.Request{
			ID:        req.ID,
			SessionID: sessionID,
			ToolName:  req.ToolName,
			ToolInput: req.ToolInput,
			Message:   req.Message,
		}); err != nil {
			r.logger.WithError(err).Warn("Failed to mirror permission request",
				zap.String("request_id", req.ID))
		}
	}
	return nil
}

// ClearPendingRequest drops the cached request. Clearing when none is set
// is a no-op; the audit record, if any, stays.
func (r *Registry) ClearPendingRequest(sessionID string) {
	r.mu.Lock()
	delete(r.pending, sessionID)
	r.mu.Unlock()
}

// PendingRequest returns the session's outstanding question, if any.
func (r *Registry) PendingRequest(sessionID string) *models.PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[sessionID]
}

// SetThinking tracks whether the CLI is currently chewing on a prompt, so
// surfaces that connect mid-turn can restore the spinner.
func (r *Registry) SetThinking(sessionID string, thinking bool) {
	r.mu.Lock()
	if thinking {
		r.thinking[sessionID] = true
	} else {
		delete(r.thinking, sessionID)
	}
	r.mu.Unlock()
}

// Thinking reports the CLI processing state for a session.
func (r *Registry) Thinking(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.thinking[sessionID]
}

// SetExternalMessageID records the bot message that carries the pending
// prompt so the bot can edit it in place on resolution.
func (r *Registry) SetExternalMessageID(ctx context.Context, sessionID, messageID string) {
	r.mu.Lock()
	req := r.pending[sessionID]
	if req != nil {
		req.ExternalMessageID = messageID
	}
	r.mu.Unlock()

	if req != nil && req.Type == models.NotifyPermission {
		if err := r.perms.SetExternalMessageID(ctx, req.ID, messageID); err != nil {
			r.logger.WithError(err).Warn("Failed to record external message id",
				zap.String("request_id", req.ID))
		}
	}
}

// ShouldQueueMessage reports whether remote messages must be buffered
// because the CLI holds the session.
func (r *Registry) ShouldQueueMessage(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return sess.ControlState == models.ControlCLIActive ||
		sess.ControlState == models.ControlCLIWaiting, nil
}

// CanExecuteRemoteTask reports whether the remote surface may drive the
// session right now.
func (r *Registry) CanExecuteRemoteTask(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return sess.ControlState == models.ControlRemoteActive, nil
}

// QueueMessage buffers a message for the session and emits queue_updated.
func (r *Registry) QueueMessage(ctx context.Context, sessionID, content, source string) (*models.QueuedMessage, error) {
	msg, err := r.store.QueueMessage(ctx, sessionID, content, source)
	if err != nil {
		return nil, err
	}
	r.notify.QueueUpdated(ctx, sessionID)
	return msg, nil
}

// MarkMessageSent transitions a queued message to sent and emits
// queue_updated.
func (r *Registry) MarkMessageSent(ctx context.Context, sessionID string, messageID int64) error {
	if err := r.store.MarkMessageSent(ctx, messageID); err != nil {
		return err
	}
	r.notify.QueueUpdated(ctx, sessionID)
	return nil
}

// CancelQueuedMessage cancels one queued message and emits queue_updated.
func (r *Registry) CancelQueuedMessage(ctx context.Context, sessionID string, messageID int64) error {
	if err := r.store.CancelQueuedMessage(ctx, messageID); err != nil {
		return err
	}
	r.notify.QueueUpdated(ctx, sessionID)
	return nil
}

// ClearQueue cancels all pending messages and emits queue_updated.
func (r *Registry) ClearQueue(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.store.ClearQueue(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	r.notify.QueueUpdated(ctx, sessionID)
	return n, nil
}

// Rename updates the display name.
func (r *Registry) Rename(ctx context.Context, sessionID, name string) error {
	if err := r.store.RenameSession(ctx, sessionID, name); err != nil {
		return err
	}
	r.notify.SessionsUpdate(ctx)
	return nil
}

// Delete removes a session: cached pending request, rendezvous waits and
// parked responses, then the row (dependents cascade).
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.ClearPendingRequest(sessionID)
	r.SetThinking(sessionID, false)
	r.waits.ClearSession(sessionID)
	if err := r.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	r.logger.Info("Session deleted", zap.String("session_id", sessionID))
	r.notify.SessionsUpdate(ctx)
	return nil
}

// Resolve finds a session by exact ID, ID prefix (min 8 chars),
// case-insensitive name, or 1-based registration-order index.
func (r *Registry) Resolve(ctx context.Context, ref string) (*models.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, store.ErrNotFound
	}

	if sess, err := r.store.GetSession(ctx, ref); err == nil {
		return sess, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if idx, err := strconv.Atoi(ref); err == nil && idx >= 1 {
		sessions, err := r.store.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		if idx <= len(sessions) {
			return sessions[idx-1], nil
		}
		return nil, store.ErrNotFound
	}

	if len(ref) >= 8 {
		if sess, err := r.store.GetSessionByPrefix(ctx, ref); err == nil {
			return sess, nil
		} else if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
	}

	return r.store.GetSessionByName(ctx, ref)
}

// Store exposes the underlying session store for read-side handlers.
func (r *Registry) Store() *store.Store { return r.store }
