package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

func TestGetSessionAndNotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", out["id"])
	assert.Equal(t, "api", out["name"])
	assert.Equal(t, "cli_active", out["control_state"])

	w, _ = f.do(t, http.MethodGet, "/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessionsIncludesQueueCounts(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	_, err := f.registry.QueueMessage(context.Background(), "sess-1", "queued prompt", "web")
	require.NoError(t, err)

	w, out := f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	sessions := out["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, "sess-1", first["id"])
	assert.Equal(t, float64(1), first["queue_count"])
}

func TestRenameSessionViaQueryAndBody(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodPatch, "/sessions/sess-1/rename?name=deploy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := out["session"].(map[string]interface{})
	assert.Equal(t, "deploy", sess["name"])

	w, out = f.do(t, http.MethodPatch, "/sessions/sess-1/rename", map[string]string{"name": "rollback"})
	require.Equal(t, http.StatusOK, w.Code)
	sess = out["session"].(map[string]interface{})
	assert.Equal(t, "rollback", sess["name"])

	w, _ = f.do(t, http.MethodPatch, "/sessions/sess-1/rename", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSessionRemovesRow(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodDelete, "/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])

	w, _ = f.do(t, http.MethodGet, "/sessions/sess-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandoffAndReleaseTransitions(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodPost, "/sessions/sess-1/handoff", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := out["session"].(map[string]interface{})
	assert.Equal(t, "remote_active", sess["control_state"])

	w, out = f.do(t, http.MethodPost, "/sessions/sess-1/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess = out["session"].(map[string]interface{})
	assert.Equal(t, "released", sess["control_state"])

	// A second release has nothing to give back.
	w, _ = f.do(t, http.MethodPost, "/sessions/sess-1/release", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodPost, "/sessions/sess-1/queue", map[string]string{
		"content": "run the tests",
	})
	require.Equal(t, http.StatusOK, w.Code)
	msg := out["message"].(map[string]interface{})
	assert.Equal(t, "web", msg["source"])
	assert.Equal(t, "pending", msg["status"])
	msgID := int64(msg["id"].(float64))

	w, out = f.do(t, http.MethodGet, "/sessions/sess-1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["count"])

	w, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/sessions/sess-1/queue/%d", msgID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, out = f.do(t, http.MethodGet, "/sessions/sess-1/queue", nil)
	assert.Equal(t, float64(0), out["count"])
}

func TestCancelQueuedMessageRejectsBadID(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodDelete, "/sessions/sess-1/queue/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid message id", out["error"])
}

func TestClearQueueReportsCount(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	ctx := context.Background()
	for _, content := range []string{"first", "second"} {
		_, err := f.registry.QueueMessage(ctx, "sess-1", content, "telegram")
		require.NoError(t, err)
	}

	w, out := f.do(t, http.MethodDelete, "/sessions/sess-1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), out["cleared_count"])
}

func TestQueueRequiresKnownSession(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodPost, "/sessions/ghost/queue", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatPaginatesNewestFirst(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	for i := 0; i < 3; i++ {
		w, _ := f.do(t, http.MethodPost, "/sessions/sess-1/chat", map[string]string{
			"type":    "user",
			"content": fmt.Sprintf("message %d", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/chat?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), out["total"])
	assert.Equal(t, true, out["has_more"])

	messages := out["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "message 2", first["content"])
	assert.Equal(t, "web", first["source"])

	w, out = f.do(t, http.MethodGet, "/sessions/sess-1/chat?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["has_more"])
}

func TestAssistantReplyFromCLIStopsThinking(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	f.registry.SetThinking("sess-1", true)

	_, out := f.do(t, http.MethodGet, "/sessions/sess-1/cli-thinking", nil)
	assert.Equal(t, true, out["thinking"])

	w, _ := f.do(t, http.MethodPost, "/sessions/sess-1/chat", map[string]string{
		"type":    "assistant",
		"content": "All done.",
		"source":  "cli",
	})
	require.Equal(t, http.StatusOK, w.Code)

	_, out = f.do(t, http.MethodGet, "/sessions/sess-1/cli-thinking", nil)
	assert.Equal(t, false, out["thinking"])
}

func TestClearChatReportsDeleted(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	_, _ = f.do(t, http.MethodPost, "/sessions/sess-1/chat", map[string]string{
		"type": "user", "content": "hello",
	})

	w, out := f.do(t, http.MethodDelete, "/sessions/sess-1/chat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["deleted"])
}

func TestSettingsFallBackToConfiguredDefaults(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "default-model", out["model"])
}

func TestPutSettingsOverridesDefaults(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, _ := f.do(t, http.MethodPut, "/sessions/sess-1/settings", map[string]string{
		"model":          "smart-model",
		"autonomy_level": "high",
	})
	require.Equal(t, http.StatusOK, w.Code)

	_, out := f.do(t, http.MethodGet, "/sessions/sess-1/settings", nil)
	assert.Equal(t, "smart-model", out["model"])
	assert.Equal(t, "high", out["autonomy_level"])
}

func TestResolvePermissionRecordsDecision(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	ctx := context.Background()

	require.NoError(t, f.perms.CreateRequest(ctx, &permission.Request{
		ID:        "req-1",
		SessionID: "sess-1",
		ToolName:  "Execute",
		ToolInput: json.RawMessage(`{"command":"make deploy"}`),
		Message:   "Droid wants to execute make deploy",
	}))

	w, out := f.do(t, http.MethodPost, "/sessions/sess-1/permissions/req-1/resolve",
		map[string]string{"decision": "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])

	req, err := f.perms.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, permission.RequestApproved, req.Decision)
	assert.Equal(t, "web", req.DecidedBy)
	assert.NotNil(t, req.DecidedAt)
}

func TestResolvePermissionRejectsUnknownDecision(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodPost, "/sessions/sess-1/permissions/req-1/resolve",
		map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "decision must be 'approved' or 'denied'", out["error"])
}

func TestResolveUnknownPermissionReturns404(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, _ := f.do(t, http.MethodPost, "/sessions/sess-1/permissions/ghost/resolve",
		map[string]string{"decision": "denied"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPermissionHistoryScopedToSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	f.register(t, "sess-2", "/proj/web")
	ctx := context.Background()

	for i, sid := range []string{"sess-1", "sess-2"} {
		require.NoError(t, f.perms.CreateRequest(ctx, &permission.Request{
			ID:        fmt.Sprintf("req-%d", i),
			SessionID: sid,
			ToolName:  "Execute",
			Message:   "Droid wants to run a command",
		}))
	}

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out["permissions"], 1)

	w, out = f.do(t, http.MethodGet, "/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out["permissions"], 2)
}

func TestSessionEventsIncludeRegistration(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)

	events := out["events"].([]interface{})
	require.NotEmpty(t, events)
	first := events[0].(map[string]interface{})
	assert.Equal(t, "registered", first["event_type"])
}

func TestTimelineMergesEventsAndPermissions(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	require.NoError(t, f.perms.CreateRequest(context.Background(), &permission.Request{
		ID:        "req-1",
		SessionID: "sess-1",
		ToolName:  "Execute",
		Message:   "Droid wants to run a command",
	}))

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)

	timeline := out["timeline"].([]interface{})
	require.Len(t, timeline, 2)
	types := map[string]bool{}
	for _, entry := range timeline {
		types[entry.(map[string]interface{})["type"].(string)] = true
	}
	assert.True(t, types["event"])
	assert.True(t, types["permission"])
}

func TestNotificationsUnreadFilterAndMarkRead(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "sess-1", "/proj/api")
	require.NoError(t, f.store.AddNotification(context.Background(), &models.Notification{
		SessionID: "sess-1",
		Type:      models.NotifyPermission,
		Message:   "Droid wants to run make",
	}))

	w, out := f.do(t, http.MethodGet, "/sessions/sess-1/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, out["notifications"], 1)

	w, _ = f.do(t, http.MethodPost, "/sessions/sess-1/notifications/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, out = f.do(t, http.MethodGet, "/sessions/sess-1/notifications?unread=true", nil)
	assert.Empty(t, out["notifications"])
}
