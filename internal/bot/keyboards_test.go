package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

func TestPermissionKeyboardLayout(t *testing.T) {
	kb := permissionKeyboard("aaaabbbbccccdddd", "11112222333344445555")

	require.Len(t, kb, 2)
	require.Len(t, kb[0], 2)
	require.Len(t, kb[1], 1)

	assert.Equal(t, "Approve", kb[0][0].Text)
	assert.Equal(t, "approve:aaaabbbb:11112222", kb[0][0].Data)
	assert.Equal(t, "Deny", kb[0][1].Text)
	assert.Equal(t, "deny:aaaabbbb:11112222", kb[0][1].Data)
	assert.Equal(t, "Approve All", kb[1][0].Text)
	assert.Equal(t, "approve_all:aaaabbbb:11112222", kb[1][0].Data)
}

func TestStopKeyboardLayout(t *testing.T) {
	kb := stopKeyboard("aaaabbbbcccc", "1111222233")

	require.Len(t, kb, 1)
	require.Len(t, kb[0], 2)
	assert.Equal(t, "done:aaaabbbb:11112222", kb[0][0].Data)
	assert.Equal(t, "status:aaaabbbb:11112222", kb[0][1].Data)
}

func TestShortIDsPassThrough(t *testing.T) {
	kb := stopKeyboard("abc", "xy")
	assert.Equal(t, "done:abc:xy", kb[0][0].Data)
}

func TestCallbackDataStaysWithinLimit(t *testing.T) {
	long := strings.Repeat("x", 100)
	data := callbackData(long, long, long)
	assert.LessOrEqual(t, len(data), callbackDataLimit)
}

func TestSessionKeyboardCapsAtTen(t *testing.T) {
	var sessions []*models.Session
	for i := 0; i < 15; i++ {
		sessions = append(sessions, &models.Session{
			ID:     strings.Repeat("a", 30) + string(rune('a'+i)),
			Name:   "sess",
			Status: models.StatusWaiting,
		})
	}

	kb := sessionKeyboard(sessions)
	assert.Len(t, kb, maxSessionButtons)
}

func TestSessionKeyboardShowsStatusEmoji(t *testing.T) {
	kb := sessionKeyboard([]*models.Session{
		{ID: "s1", Name: "api", Status: models.StatusRunning},
		{ID: "s2", Name: "web", Status: models.StatusWaiting},
		{ID: "s3", Name: "old", Status: models.StatusStopped},
	})

	require.Len(t, kb, 3)
	assert.Equal(t, "🟡 api", kb[0][0].Text)
	assert.Equal(t, "🟢 web", kb[1][0].Text)
	assert.Equal(t, "🔴 old", kb[2][0].Text)
	assert.Equal(t, "select:s1", kb[0][0].Data)
}

func TestInlineKeyboardGroupsThreePerRow(t *testing.T) {
	buttons := []models.Button{
		{Text: "A", Callback: "a"},
		{Text: "B", Callback: "b"},
		{Text: "C", Callback: "c"},
		{Text: "D", Callback: "d"},
	}

	kb := inlineKeyboard(buttons, "sessionid1234567890", "requestid1234567890")
	require.Len(t, kb, 2)
	assert.Len(t, kb[0], 3)
	assert.Len(t, kb[1], 1)
	assert.Equal(t, "a:sessioni:requesti", kb[0][0].Data)
}
