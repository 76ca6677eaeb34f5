package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/constants"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/store"
)

// ErrSessionBusy means the CLI currently holds the Agent's real session for
// the requested project directory; a remote spawn would fork the
// conversation.
var ErrSessionBusy = errors.New("session is busy with a CLI run")

// Executor spawns the headless Agent, streams its activity as events, and
// persists results. Each task owns its child process; the only shared state
// is the project-directory session map.
type Executor struct {
	cfg      config.AgentConfig
	sessions *store.Store
	tasks    *Store
	notify   *notifier.Notifier
	logger   *logger.Logger

	mu         sync.Mutex
	sessionMap map[string]string // project_dir -> last Agent session id
	running    map[string]context.CancelFunc
}

// NewExecutor creates the executor.
func NewExecutor(cfg config.AgentConfig, sessions *store.Store, tasks *Store, notify *notifier.Notifier, log *logger.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		sessions:   sessions,
		tasks:      tasks,
		notify:     notify,
		logger:     log.WithFields(zap.String("component", "executor")),
		sessionMap: make(map[string]string),
		running:    make(map[string]context.CancelFunc),
	}
}

// Execute validates the request, records a pending task and spawns the Agent
// in the background. The returned task is still pending; completion arrives
// over the event bus.
func (e *Executor) Execute(ctx context.Context, req *ExecuteRequest) (*Task, error) {
	t, sessionID, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[t.ID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, t, req, sessionID)
	return t, nil
}

// ExecuteSync runs the task in the calling goroutine and returns the finished
// row. Queue draining uses it to keep buffered messages strictly ordered.
func (e *Executor) ExecuteSync(ctx context.Context, req *ExecuteRequest) (*Task, error) {
	t, sessionID, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running[t.ID] = cancel
	e.mu.Unlock()

	e.run(runCtx, t, req, sessionID)
	cancel()
	return e.tasks.GetTask(context.Background(), t.ID)
}

func (e *Executor) prepare(ctx context.Context, req *ExecuteRequest) (*Task, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, "", errors.New("prompt is required")
	}
	if req.ProjectDir == "" {
		return nil, "", errors.New("project_dir is required")
	}

	sessionID := req.SessionID
	if sessionID == "" && !req.Fresh {
		sessionID = e.SessionFor(req.ProjectDir)
	}

	if !req.Fresh {
		sess, err := e.sessions.GetSessionByProjectDir(ctx, req.ProjectDir)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, "", err
		}
		if sess != nil && (sess.Status == models.StatusRunning || sess.Status == models.StatusWaiting) {
			return nil, "", ErrSessionBusy
		}
	}

	if req.Source == "" {
		req.Source = "api"
	}
	t := &Task{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ProjectDir: req.ProjectDir,
		Prompt:     req.Prompt,
		Model:      e.modelFor(ctx, sessionID, req),
		Source:     req.Source,
		Status:     StatusPending,
	}
	if err := e.tasks.CreateTask(ctx, t); err != nil {
		return nil, "", err
	}
	return t, sessionID, nil
}

// Cancel hard-kills a running task. Graceful termination is not attempted:
// the child may be deep inside a model call and ignore signals for minutes.
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.running[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running task. In-flight Agent processes are killed
// through their run contexts.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.running))
	for _, cancel := range e.running {
		cancels = append(cancels, cancel)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// SessionFor returns the remembered Agent session for a project directory.
func (e *Executor) SessionFor(projectDir string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionMap[projectDir]
}

// ClearSession forgets the mapping so the next task starts fresh.
func (e *Executor) ClearSession(projectDir string) {
	e.mu.Lock()
	delete(e.sessionMap, projectDir)
	e.mu.Unlock()
}

// SessionMap snapshots the project-directory mappings.
func (e *Executor) SessionMap() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.sessionMap))
	for k, v := range e.sessionMap {
		out[k] = v
	}
	return out
}

func (e *Executor) modelFor(ctx context.Context, sessionID string, req *ExecuteRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if sessionID != "" {
		if settings, err := e.sessions.GetSettings(ctx, sessionID); err == nil && settings.Model != "" {
			return settings.Model
		}
	}
	return e.cfg.DefaultModel
}

func (e *Executor) run(ctx context.Context, t *Task, req *ExecuteRequest, sessionID string) {
	defer func() {
		e.mu.Lock()
		delete(e.running, t.ID)
		e.mu.Unlock()
	}()

	started := time.Now()
	if err := e.tasks.MarkRunning(ctx, t.ID); err != nil {
		e.logger.WithError(err).Error("Failed to mark task running", zap.String("task_id", t.ID))
		return
	}
	e.emit(ctx, sessionID, events.TaskStarted, map[string]interface{}{
		"task_id":     t.ID,
		"project_dir": t.ProjectDir,
		"prompt":      t.Prompt,
		"source":      t.Source,
	})

	cmd := e.buildCommand(ctx, t, req, sessionID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.fail(ctx, t, sessionID, started, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.fail(ctx, t, sessionID, started, err)
		return
	}
	if err := cmd.Start(); err != nil {
		e.fail(ctx, t, sessionID, started, err)
		return
	}

	var stdoutBuf bytes.Buffer
	var completion *StreamLine
	g := new(errgroup.Group)

	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			stdoutBuf.Write(line)
			stdoutBuf.WriteByte('\n')
			if req.Stream {
				if sl := ParseStreamLine(line); sl != nil {
					if sl.Type == "completion" {
						completion = sl
						continue
					}
					e.emit(ctx, sessionID, events.TaskActivity, map[string]interface{}{
						"task_id":  t.ID,
						"activity": map[string]interface{}{"type": "event", "text": string(sl.Raw)},
					})
				}
			}
		}
		return scanner.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if act := ClassifyLine(scanner.Text()); act != nil {
				e.emit(ctx, sessionID, events.TaskActivity, map[string]interface{}{
					"task_id":  t.ID,
					"activity": act,
				})
			}
		}
		return scanner.Err()
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		t.Status = StatusCancelled
		t.DurationMS = time.Since(started).Milliseconds()
		if err := e.tasks.Complete(context.Background(), t, nil); err != nil {
			e.logger.WithError(err).Error("Failed to record cancelled task", zap.String("task_id", t.ID))
		}
		e.emit(context.Background(), sessionID, events.TaskCancelled, map[string]interface{}{
			"task_id": t.ID,
		})
		return
	}
	if readErr != nil {
		e.logger.WithError(readErr).Warn("Agent output read error", zap.String("task_id", t.ID))
	}

	e.finish(ctx, t, req, sessionID, started, stdoutBuf.Bytes(), completion, waitErr)
}

func (e *Executor) buildCommand(ctx context.Context, t *Task, req *ExecuteRequest, sessionID string) *exec.Cmd {
	autonomy := req.AutonomyLevel
	if autonomy == "" {
		autonomy = e.cfg.DefaultAutonomyLevel
	}
	reasoning := req.ReasoningEffort
	if reasoning == "" {
		reasoning = e.cfg.DefaultReasoningEffort
	}

	args := []string{"exec"}
	if t.Model != "" {
		args = append(args, "--model", t.Model)
	}
	if reasoning != "" {
		args = append(args, "--reasoning-effort", reasoning)
	}
	if autonomy != "" {
		args = append(args, "--auto", autonomy)
	}
	if sessionID != "" {
		args = append(args, "--session-id", sessionID)
	}
	args = append(args, "--cwd", t.ProjectDir)
	if req.Stream {
		args = append(args, "--output-format", "stream-json")
	} else {
		args = append(args, "--output-format", "json")
	}
	args = append(args, t.Prompt)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	cmd.Dir = t.ProjectDir
	cmd.Env = append(os.Environ(), "AGENT_EXEC_MODE=1")
	// Cancelled runs must not leave Wait hanging on pipes a grandchild still
	// holds open.
	cmd.WaitDelay = constants.TaskKillDeadline
	return cmd
}

// finish parses the final output, refreshes the session map and persists the
// result. A new Agent session id that is not yet registered gets a sessions
// row in the same transaction as the task.
func (e *Executor) finish(ctx context.Context, t *Task, req *ExecuteRequest, sessionID string, started time.Time, output []byte, completion *StreamLine, waitErr error) {
	t.DurationMS = time.Since(started).Milliseconds()

	var resultText, agentSession string
	var isError bool
	switch {
	case completion != nil:
		resultText = completion.FinalText
		agentSession = completion.SessionID
		if completion.DurationMS > 0 {
			t.DurationMS = completion.DurationMS
		}
		t.NumTurns = completion.NumTurns
	default:
		res, err := ParseResult(output)
		if err != nil {
			if waitErr != nil {
				e.fail(ctx, t, sessionID, started, waitErr)
				return
			}
			e.fail(ctx, t, sessionID, started, err)
			return
		}
		resultText = res.Result
		agentSession = res.SessionID
		isError = res.IsError
		if res.DurationMS > 0 {
			t.DurationMS = res.DurationMS
		}
		t.NumTurns = res.NumTurns
	}

	if waitErr != nil || isError {
		t.Status = StatusFailed
		t.Error = resultText
		if t.Error == "" && waitErr != nil {
			t.Error = waitErr.Error()
		}
	} else {
		t.Status = StatusCompleted
		t.Result = resultText
	}
	success := t.Status == StatusCompleted
	t.Success = &success

	var newSession *models.Session
	if agentSession != "" {
		e.mu.Lock()
		e.sessionMap[t.ProjectDir] = agentSession
		e.mu.Unlock()
		t.SessionID = agentSession

		if _, err := e.sessions.GetSession(ctx, agentSession); errors.Is(err, store.ErrNotFound) {
			newSession = &models.Session{
				ID:         agentSession,
				Name:       filepath.Base(t.ProjectDir),
				ProjectDir: t.ProjectDir,
			}
		}
	}

	if err := e.tasks.Complete(ctx, t, newSession); err != nil {
		e.logger.WithError(err).Error("Failed to persist task result", zap.String("task_id", t.ID))
	}

	e.emit(ctx, t.SessionID, events.TaskCompleted, map[string]interface{}{
		"task_id":     t.ID,
		"status":      string(t.Status),
		"success":     success,
		"result":      t.Result,
		"error":       t.Error,
		"duration_ms": t.DurationMS,
		"num_turns":   t.NumTurns,
		"source":      t.Source,
		"project_dir": t.ProjectDir,
	})
	if newSession != nil {
		e.notify.SessionsUpdate(ctx)
	}
	e.logger.Info("Task finished",
		zap.String("task_id", t.ID),
		zap.String("status", string(t.Status)),
		zap.Int64("duration_ms", t.DurationMS))
}

func (e *Executor) fail(ctx context.Context, t *Task, sessionID string, started time.Time, cause error) {
	t.Status = StatusFailed
	t.Error = cause.Error()
	t.DurationMS = time.Since(started).Milliseconds()
	success := false
	t.Success = &success

	if err := e.tasks.Complete(ctx, t, nil); err != nil {
		e.logger.WithError(err).Error("Failed to record task failure", zap.String("task_id", t.ID))
	}
	e.emit(ctx, sessionID, events.TaskCompleted, map[string]interface{}{
		"task_id":     t.ID,
		"status":      string(StatusFailed),
		"success":     false,
		"error":       t.Error,
		"source":      t.Source,
		"project_dir": t.ProjectDir,
	})
	e.logger.WithError(cause).Warn("Task failed", zap.String("task_id", t.ID))
}

// emit routes through the session subject when the task is bound to a
// session, otherwise broadcasts.
func (e *Executor) emit(ctx context.Context, sessionID, eventType string, payload map[string]interface{}) {
	if sessionID != "" {
		e.notify.Emit(ctx, sessionID, eventType, payload)
		return
	}
	e.notify.Broadcast(ctx, eventType, payload)
}
