package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/auth"
	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/images"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/models"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/session/store"
	"github.com/etwicaksono/droid-remote/internal/task"
)

type apiFixture struct {
	router   *gin.Engine
	cfg      *config.Config
	registry *registry.Registry
	perms    *permission.Store
	store    *store.Store
	tasks    *task.Store
	tokens   *auth.TokenService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.Default()
	st, err := store.New(db, db)
	require.NoError(t, err)
	perms, err := permission.NewStore(db, db)
	require.NoError(t, err)
	tasks, err := task.NewStore(db, db)
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	waits := rendezvous.New(log)
	notify := notifier.New(eventBus, st, log)
	reg := registry.New(st, perms, waits, notify, log)
	engine := permission.NewEngine(perms, waits, notify, log)

	cfg := &config.Config{
		Agent: config.AgentConfig{
			Binary:               "droid",
			DefaultModel:         "default-model",
			DefaultAutonomyLevel: "medium",
		},
		Auth: config.AuthConfig{
			Username:       "admin",
			Password:       "hunter2",
			JWTSecret:      "test-jwt-secret",
			JWTExpiryHours: 1,
		},
		Uploads: config.UploadConfig{MaxBytes: 1024},
	}

	executor := task.NewExecutor(cfg.Agent, st, tasks, notify, log)
	imgs := images.NewService(t.TempDir(), "", st)
	tokens := auth.NewTokenService(cfg.Auth)

	router := gin.New()
	router.UseRawPath = true
	New(cfg, reg, engine, perms, waits, notify, executor, tasks, imgs, tokens,
		func() bool { return false }, log).
		Register(router.Group("/"))

	return &apiFixture{
		router:   router,
		cfg:      cfg,
		registry: reg,
		perms:    perms,
		store:    st,
		tasks:    tasks,
		tokens:   tokens,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return f.doBearer(t, method, path, body, "")
}

func (f *apiFixture) doBearer(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (f *apiFixture) register(t *testing.T, sessionID, projectDir string) {
	t.Helper()
	_, err := f.registry.Register(context.Background(), sessionID, projectDir, "")
	require.NoError(t, err)
}

func (f *apiFixture) handoff(t *testing.T, sessionID string) {
	t.Helper()
	require.NoError(t, f.registry.HandoffToRemote(context.Background(), sessionID))
}

func TestRootDescribesService(t *testing.T) {
	f := newAPIFixture(t)

	w, out := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "droid-remote-bridge", out["name"])
	assert.Equal(t, "running", out["status"])

	endpoints := out["endpoints"].(map[string]interface{})
	assert.Equal(t, "/ws", endpoints["socket"])
}

func TestHealthCountsActiveSessions(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	f.register(t, "sess-2", "/proj/web")
	require.NoError(t, f.registry.UpdateStatus(context.Background(), "sess-2", models.StatusStopped))

	w, out := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, float64(1), out["active_sessions"])
	assert.Equal(t, false, out["bot_connected"])
}
