package bridgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestRegisterSessionSendsSecretAndPayload(t *testing.T) {
	var gotSecret, gotContentType string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/hooks/sessions/register", r.URL.Path)
		gotSecret = r.Header.Get("X-Bridge-Secret")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := New(server.URL, "hook-secret", newTestLogger())
	err := c.RegisterSession(context.Background(), "sess-1", "/tmp/project", "api")
	require.NoError(t, err)

	assert.Equal(t, "hook-secret", gotSecret)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "sess-1", gotBody["session_id"])
	assert.Equal(t, "/tmp/project", gotBody["project_dir"])
	assert.Equal(t, "api", gotBody["session_name"])
}

func TestNotifyReturnsRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/sessions/sess-1/notify", r.URL.Path)
		var body NotifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "permission", body.Type)
		require.Equal(t, "Bash", body.ToolName)
		require.Len(t, body.Buttons, 2)
		_, _ = w.Write([]byte(`{"success":true,"request_id":"req-abc"}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	requestID, err := c.Notify(context.Background(), "sess-1", NotifyRequest{
		SessionName: "api",
		Message:     "Permission required",
		Type:        "permission",
		ToolName:    "Bash",
		ToolInput:   json.RawMessage(`{"command":"ls"}`),
		Buttons: []Button{
			{Text: "Approve", Callback: "approve"},
			{Text: "Deny", Callback: "deny"},
		},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "req-abc", requestID)
}

func TestWaitForResponseDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/sessions/sess-1/wait", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "req-abc", body["request_id"])
		require.InDelta(t, 120.0, body["timeout"], 0.01)
		_, _ = w.Write([]byte(`{"response":"approve","timeout":false,"has_response":true}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	response, ok, err := c.WaitForResponse(context.Background(), "sess-1", "req-abc", 120*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "approve", response)
}

func TestWaitForResponseTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":null,"timeout":true,"has_response":false}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	response, ok, err := c.WaitForResponse(context.Background(), "sess-1", "req-abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, response)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	err := c.UpdateStatus(context.Background(), "sess-1", "running")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"missing field"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	err := c.RegisterSession(context.Background(), "sess-1", "/tmp", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPatchSessionOmitsZeroFields(t *testing.T) {
	var raw map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/hooks/sessions/sess-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	require.NoError(t, c.UpdateStatus(context.Background(), "sess-1", "waiting"))

	assert.Equal(t, "waiting", raw["status"])
	assert.NotContains(t, raw, "clear_pending")
	assert.NotContains(t, raw, "transcript_path")
}

func TestCheckAllowlistQueryAndDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/allowlist/check", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "Bash", q.Get("tool_name"))
		require.Equal(t, `{"command":"git status"}`, q.Get("tool_input"))
		require.Equal(t, "sess-1", q.Get("session_id"))
		_, _ = w.Write([]byte(`{"allowed":true,"denied":false,"decision":"allow"}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	decision := c.CheckAllowlist(context.Background(), "sess-1", "Bash", json.RawMessage(`{"command":"git status"}`))
	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow", decision.Decision)
}

func TestCheckAllowlistFailsClosed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	decision := c.CheckAllowlist(context.Background(), "", "Bash", nil)
	assert.False(t, decision.Allowed)
	assert.False(t, decision.Denied)
	assert.Equal(t, int32(1), calls.Load(), "fast path must not retry")
}

func TestAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","active_sessions":1}`))
	}))
	c := New(server.URL, "s", newTestLogger())
	assert.True(t, c.Available(context.Background()))

	server.Close()
	assert.False(t, c.Available(context.Background()))
}

func TestPollResponseEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hooks/sessions/sess-1/response/req-abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"response":null,"timeout":false,"has_response":false}`))
	}))
	defer server.Close()

	c := New(server.URL, "s", newTestLogger())
	response, ok, err := c.PollResponse(context.Background(), "sess-1", "req-abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, response)
}
