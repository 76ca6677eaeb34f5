package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/constants"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

type executorFixture struct {
	executor *Executor
	sessions *store.Store
	tasks    *Store

	// Dispatch on the memory bus is synchronous, so finished calls have
	// fully appended here before they return.
	captured *[]*bus.Event
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.Default()
	sessions, err := store.New(db, db)
	require.NoError(t, err)
	tasks, err := NewStore(db, db)
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	captured := &[]*bus.Event{}
	record := func(ctx context.Context, event *bus.Event) error {
		*captured = append(*captured, event)
		return nil
	}
	_, err = eventBus.Subscribe(events.AllSessionEvents, record)
	require.NoError(t, err)
	_, err = eventBus.Subscribe(events.SubjectBroadcast, record)
	require.NoError(t, err)

	notify := notifier.New(eventBus, sessions, log)
	cfg := config.AgentConfig{
		Binary:               "droid",
		DefaultModel:         "default-model",
		DefaultAutonomyLevel: "medium",
	}

	return &executorFixture{
		executor: NewExecutor(cfg, sessions, tasks, notify, log),
		sessions: sessions,
		tasks:    tasks,
		captured: captured,
	}
}

func (f *executorFixture) eventTypes() []string {
	var types []string
	for _, e := range *f.captured {
		types = append(types, e.Type)
	}
	return types
}

// runningTask plants a pending+running task row the way run() would have.
func (f *executorFixture) runningTask(t *testing.T, task *Task) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.tasks.CreateTask(ctx, task))
	require.NoError(t, f.tasks.MarkRunning(ctx, task.ID))
	task.Status = StatusRunning
}

func TestPrepareValidatesRequest(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	_, _, err := f.executor.prepare(ctx, &ExecuteRequest{ProjectDir: "/proj"})
	assert.ErrorContains(t, err, "prompt is required")

	_, _, err = f.executor.prepare(ctx, &ExecuteRequest{Prompt: "do it"})
	assert.ErrorContains(t, err, "project_dir is required")
}

func TestPrepareRefusesBusyCLISession(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	sess := &models.Session{ID: "cli-session", ProjectDir: "/proj/foo"}
	require.NoError(t, f.sessions.CreateSession(ctx, sess))

	for _, status := range []models.SessionStatus{models.StatusRunning, models.StatusWaiting} {
		require.NoError(t, f.sessions.UpdateSessionStatus(ctx, sess.ID, status))
		_, _, err := f.executor.prepare(ctx, &ExecuteRequest{Prompt: "p", ProjectDir: "/proj/foo"})
		assert.ErrorIs(t, err, ErrSessionBusy, "status %s", status)
	}

	require.NoError(t, f.sessions.UpdateSessionStatus(ctx, sess.ID, models.StatusStopped))
	_, _, err := f.executor.prepare(ctx, &ExecuteRequest{Prompt: "p", ProjectDir: "/proj/foo"})
	assert.NoError(t, err)
}

func TestPrepareFreshSkipsBusyCheckAndSessionMap(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	sess := &models.Session{ID: "cli-session", ProjectDir: "/proj/foo"}
	require.NoError(t, f.sessions.CreateSession(ctx, sess))
	require.NoError(t, f.sessions.UpdateSessionStatus(ctx, sess.ID, models.StatusRunning))

	f.executor.mu.Lock()
	f.executor.sessionMap["/proj/foo"] = "remembered"
	f.executor.mu.Unlock()

	task, sessionID, err := f.executor.prepare(ctx, &ExecuteRequest{
		Prompt: "p", ProjectDir: "/proj/foo", Fresh: true,
	})
	require.NoError(t, err)
	assert.Empty(t, sessionID)
	assert.Empty(t, task.SessionID)
}

func TestPrepareReusesRememberedSession(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	// The map only ever holds ids finish() already persisted.
	for _, id := range []string{"agent-abc123", "explicit"} {
		require.NoError(t, f.sessions.CreateSession(ctx, &models.Session{
			ID: id, ProjectDir: "/proj/foo", Status: models.StatusStopped,
		}))
	}

	f.executor.mu.Lock()
	f.executor.sessionMap["/proj/foo"] = "agent-abc123"
	f.executor.mu.Unlock()

	task, sessionID, err := f.executor.prepare(ctx, &ExecuteRequest{Prompt: "p", ProjectDir: "/proj/foo"})
	require.NoError(t, err)
	assert.Equal(t, "agent-abc123", sessionID)
	assert.Equal(t, "agent-abc123", task.SessionID)

	// An explicit session id always wins over the remembered one.
	task, sessionID, err = f.executor.prepare(ctx, &ExecuteRequest{
		Prompt: "p", ProjectDir: "/proj/foo", SessionID: "explicit",
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", sessionID)
	assert.Equal(t, "explicit", task.SessionID)
}

func TestModelResolutionOrder(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	sess := &models.Session{ID: "s1", ProjectDir: "/proj/foo"}
	require.NoError(t, f.sessions.CreateSession(ctx, sess))

	// No request model, no settings: configured default.
	assert.Equal(t, "default-model", f.executor.modelFor(ctx, "s1", &ExecuteRequest{}))

	// Session settings override the default.
	require.NoError(t, f.sessions.PutSettings(ctx, &models.SessionSettings{
		SessionID: "s1", Model: "session-model",
	}))
	assert.Equal(t, "session-model", f.executor.modelFor(ctx, "s1", &ExecuteRequest{}))

	// The request pins everything.
	assert.Equal(t, "request-model",
		f.executor.modelFor(ctx, "s1", &ExecuteRequest{Model: "request-model"}))
}

func TestBuildCommandArguments(t *testing.T) {
	f := newExecutorFixture(t)

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "fix the tests", Model: "gpt-thing"}
	req := &ExecuteRequest{ReasoningEffort: "low", AutonomyLevel: "high"}
	cmd := f.executor.buildCommand(context.Background(), task, req, "agent-abc")

	assert.Equal(t, []string{
		"droid", "exec",
		"--model", "gpt-thing",
		"--reasoning-effort", "low",
		"--auto", "high",
		"--session-id", "agent-abc",
		"--cwd", "/proj/foo",
		"--output-format", "json",
		"fix the tests",
	}, cmd.Args)
	assert.Equal(t, "/proj/foo", cmd.Dir)
	assert.Equal(t, constants.TaskKillDeadline, cmd.WaitDelay)
	assert.Contains(t, cmd.Env, "AGENT_EXEC_MODE=1")
}

func TestBuildCommandDefaultsAndStreaming(t *testing.T) {
	f := newExecutorFixture(t)

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "p"}
	cmd := f.executor.buildCommand(context.Background(), task, &ExecuteRequest{Stream: true}, "")

	// No model, no session id, autonomy from config, streaming format.
	assert.Equal(t, []string{
		"droid", "exec",
		"--auto", "medium",
		"--cwd", "/proj/foo",
		"--output-format", "stream-json",
		"p",
	}, cmd.Args)
}

func TestCancelUnknownOrFinishedTaskReturnsFalse(t *testing.T) {
	f := newExecutorFixture(t)

	assert.False(t, f.executor.Cancel("never-started"))

	fired := false
	f.executor.mu.Lock()
	f.executor.running["t1"] = func() { fired = true }
	f.executor.mu.Unlock()

	assert.True(t, f.executor.Cancel("t1"))
	assert.True(t, fired)

	// run() removes the entry when the child exits; cancelling again is a
	// no-op.
	f.executor.mu.Lock()
	delete(f.executor.running, "t1")
	f.executor.mu.Unlock()
	assert.False(t, f.executor.Cancel("t1"))
}

func TestShutdownCancelsEveryRunningTask(t *testing.T) {
	f := newExecutorFixture(t)

	fired := make(map[string]bool)
	f.executor.mu.Lock()
	f.executor.running["t1"] = func() { fired["t1"] = true }
	f.executor.running["t2"] = func() { fired["t2"] = true }
	f.executor.mu.Unlock()

	f.executor.Shutdown()
	assert.True(t, fired["t1"])
	assert.True(t, fired["t2"])
}

func TestSessionMapLifecycle(t *testing.T) {
	f := newExecutorFixture(t)

	assert.Empty(t, f.executor.SessionFor("/proj/foo"))

	f.executor.mu.Lock()
	f.executor.sessionMap["/proj/foo"] = "agent-abc"
	f.executor.mu.Unlock()

	assert.Equal(t, "agent-abc", f.executor.SessionFor("/proj/foo"))

	// The snapshot is a copy; mutating it does not leak back.
	snap := f.executor.SessionMap()
	snap["/proj/foo"] = "tampered"
	assert.Equal(t, "agent-abc", f.executor.SessionFor("/proj/foo"))

	f.executor.ClearSession("/proj/foo")
	assert.Empty(t, f.executor.SessionFor("/proj/foo"))
}

func TestFinishCreatesSessionAndChatPair(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "do it", Source: "api"}
	f.runningTask(t, task)

	output := []byte(`{"result":"All done","session_id":"agent-new-1","is_error":false,"duration_ms":1200,"num_turns":3}`)
	f.executor.finish(ctx, task, &ExecuteRequest{}, "", time.Now(), output, nil, nil)

	stored, err := f.tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "All done", stored.Result)
	require.NotNil(t, stored.Success)
	assert.True(t, *stored.Success)
	assert.Equal(t, int64(1200), stored.DurationMS)
	assert.Equal(t, 3, stored.NumTurns)
	assert.Equal(t, "agent-new-1", stored.SessionID)

	sess, err := f.sessions.GetSession(ctx, "agent-new-1")
	require.NoError(t, err)
	assert.Equal(t, "foo", sess.Name)
	assert.Equal(t, models.ControlRemoteActive, sess.ControlState)

	// Newest first: the assistant reply precedes the prompt that caused it.
	msgs, err := f.sessions.ListChatMessages(ctx, "agent-new-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Type)
	assert.Equal(t, "All done", msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Type)
	assert.Equal(t, "do it", msgs[1].Content)

	assert.Equal(t, "agent-new-1", f.executor.SessionFor("/proj/foo"))
	assert.Contains(t, f.eventTypes(), events.TaskCompleted)
	assert.Contains(t, f.eventTypes(), events.SessionsUpdate)
}

func TestFinishUsesStreamCompletion(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "p", Source: "api"}
	f.runningTask(t, task)

	completion := &StreamLine{
		Type: "completion", SessionID: "agent-s2",
		FinalText: "streamed result", DurationMS: 42, NumTurns: 2,
	}
	f.executor.finish(ctx, task, &ExecuteRequest{Stream: true}, "", time.Now(), nil, completion, nil)

	stored, err := f.tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "streamed result", stored.Result)
	assert.Equal(t, int64(42), stored.DurationMS)
	assert.Equal(t, 2, stored.NumTurns)
	assert.Equal(t, "agent-s2", f.executor.SessionFor("/proj/foo"))
}

func TestFinishRecordsWaitError(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "p", Source: "api"}
	f.runningTask(t, task)

	f.executor.finish(ctx, task, &ExecuteRequest{}, "", time.Now(),
		[]byte("no json here"), nil, errors.New("exit status 1"))

	stored, err := f.tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "exit status 1", stored.Error)
	require.NotNil(t, stored.Success)
	assert.False(t, *stored.Success)
	assert.Contains(t, f.eventTypes(), events.TaskCompleted)
}

func TestFinishMarksAgentReportedError(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	task := &Task{ID: "t1", ProjectDir: "/proj/foo", Prompt: "p", Source: "api"}
	f.runningTask(t, task)

	output := []byte(`{"result":"model refused","session_id":"","is_error":true}`)
	f.executor.finish(ctx, task, &ExecuteRequest{}, "", time.Now(), output, nil, nil)

	stored, err := f.tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "model refused", stored.Error)
	assert.Empty(t, stored.Result)
}
