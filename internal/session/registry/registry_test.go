package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.Default()
	st, err := store.New(db, db)
	require.NoError(t, err)
	perms, err := permission.NewStore(db, db)
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	waits := rendezvous.New(log)
	notify := notifier.New(eventBus, st, log)
	return New(st, perms, waits, notify, log)
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)
	assert.Equal(t, "api", first.Name)
	assert.Equal(t, models.ControlCLIActive, first.ControlState)

	// Re-registration keeps the name and creates no duplicate.
	again, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)
	assert.Equal(t, first.Name, again.Name)

	sessions, err := r.Store().ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestRegisterAfterReleaseReturnsControlToCLI(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)
	require.NoError(t, r.HandoffToRemote(ctx, "session-aaaaaaaa"))
	require.NoError(t, r.ReleaseToCLI(ctx, "session-aaaaaaaa"))

	sess, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)
	assert.Equal(t, models.ControlCLIActive, sess.ControlState)
}

func TestControlStateTransitions(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	// cli_active -> cli_waiting -> remote_active -> released -> remote_active
	require.NoError(t, r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlCLIWaiting))
	require.NoError(t, r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlRemoteActive))
	require.NoError(t, r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlReleased))
	require.NoError(t, r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlRemoteActive))
}

func TestInvalidTransitionLeavesStateUntouched(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	// remote_active is not reachable backwards into cli_waiting.
	require.NoError(t, r.HandoffToRemote(ctx, "session-aaaaaaaa"))
	err = r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlCLIWaiting)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	sess, err := r.Store().GetSession(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.ControlRemoteActive, sess.ControlState)
}

func TestSameStateTransitionIsNoOp(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	assert.NoError(t, r.UpdateControlState(ctx, "session-aaaaaaaa", models.ControlCLIActive))
}

func TestReleaseRequiresRemoteControl(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	assert.ErrorIs(t, r.ReleaseToCLI(ctx, "session-aaaaaaaa"), ErrInvalidTransition)
}

func TestShouldQueueFollowsControlState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	queue, err := r.ShouldQueueMessage(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.True(t, queue)

	canRun, err := r.CanExecuteRemoteTask(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.False(t, canRun)

	require.NoError(t, r.HandoffToRemote(ctx, "session-aaaaaaaa"))

	queue, err = r.ShouldQueueMessage(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.False(t, queue)

	canRun, err = r.CanExecuteRemoteTask(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.True(t, canRun)
}

func TestPendingRequestCache(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	req := &models.PendingRequest{
		ID:        "req-1",
		SessionID: "session-aaaaaaaa",
		Type:      models.NotifyStop,
		Message:   "Agent finished. Continue?",
		CreatedAt: time.Now(),
	}
	require.NoError(t, r.SetPendingRequest(ctx, "session-aaaaaaaa", req))
	assert.Equal(t, "req-1", r.PendingRequest("session-aaaaaaaa").ID)

	r.ClearPendingRequest("session-aaaaaaaa")
	assert.Nil(t, r.PendingRequest("session-aaaaaaaa"))

	// Clearing when nothing is pending is harmless.
	r.ClearPendingRequest("session-aaaaaaaa")
}

func TestResolveByPrefixNameAndIndex(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "abcdef1234567890", "/proj/api", "")
	require.NoError(t, err)
	_, err = r.Register(ctx, "fedcba0987654321", "/proj/web", "")
	require.NoError(t, err)

	sess, err := r.Resolve(ctx, "abcdef1234567890")
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", sess.ID)

	sess, err = r.Resolve(ctx, "abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", sess.ID)

	sess, err = r.Resolve(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "fedcba0987654321", sess.ID)

	// 1-based registration order.
	sess, err = r.Resolve(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "fedcba0987654321", sess.ID)

	_, err = r.Resolve(ctx, "nosuch")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteClearsPendingState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "session-aaaaaaaa", "/proj/api", "")
	require.NoError(t, err)

	require.NoError(t, r.SetPendingRequest(ctx, "session-aaaaaaaa", &models.PendingRequest{
		ID: "req-1", SessionID: "session-aaaaaaaa", Type: models.NotifyInfo,
	}))
	require.NoError(t, r.Delete(ctx, "session-aaaaaaaa"))

	assert.Nil(t, r.PendingRequest("session-aaaaaaaa"))
	_, err = r.Store().GetSession(ctx, "session-aaaaaaaa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
