package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etwicaksono/droid-remote/internal/session/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, db)
	require.NoError(t, err)
	return s
}

func mustCreate(t *testing.T, s *Store, id, projectDir string) *models.Session {
	t.Helper()
	sess := &models.Session{ID: id, ProjectDir: projectDir}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestCreateSessionGeneratesNumberedNames(t *testing.T) {
	s := newTestStore(t)

	first := mustCreate(t, s, "session-aaaaaaaa", "/proj/x")
	second := mustCreate(t, s, "session-bbbbbbbb", "/proj/x")
	third := mustCreate(t, s, "session-cccccccc", "/proj/x")

	assert.Equal(t, "x", first.Name)
	assert.Equal(t, "x #2", second.Name)
	assert.Equal(t, "x #3", third.Name)

	// A different directory with the same basename starts its own counter.
	other := mustCreate(t, s, "session-dddddddd", "/other/x")
	assert.Equal(t, "x", other.Name)
}

func TestGetSessionByPrefix(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "abcdef1234567890", "/proj/a")
	mustCreate(t, s, "abcdxx9876543210", "/proj/b")

	ctx := context.Background()

	sess, err := s.GetSessionByPrefix(ctx, "abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", sess.ID)

	// Too-short prefixes are refused outright.
	_, err = s.GetSessionByPrefix(ctx, "abcd")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSessionByPrefix(ctx, "zzzzzzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSessionByPrefixAmbiguous(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "abcdefgh-one", "/proj/a")
	mustCreate(t, s, "abcdefgh-two", "/proj/b")

	_, err := s.GetSessionByPrefix(context.Background(), "abcdefgh")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetSessionByNameIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "session-aaaaaaaa", "/proj/Frontend")

	sess, err := s.GetSessionByName(context.Background(), "frontend")
	require.NoError(t, err)
	assert.Equal(t, "session-aaaaaaaa", sess.ID)
}

func TestLegacyControlStateCoercedOnRead(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	_, err := s.db.Exec(`UPDATE sessions SET control_state = 'telegram_active' WHERE id = ?`,
		"session-aaaaaaaa")
	require.NoError(t, err)

	sess, err := s.GetSession(context.Background(), "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.ControlRemoteActive, sess.ControlState)
}

func TestQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	m1, err := s.QueueMessage(ctx, "session-aaaaaaaa", "first", "web")
	require.NoError(t, err)
	m2, err := s.QueueMessage(ctx, "session-aaaaaaaa", "second", "telegram")
	require.NoError(t, err)

	count, err := s.QueueCount(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// FIFO: the oldest message comes out first.
	next, err := s.NextQueuedMessage(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, m1.ID, next.ID)

	require.NoError(t, s.MarkMessageSent(ctx, m1.ID))
	next, err = s.NextQueuedMessage(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, m2.ID, next.ID)

	// Marking twice is refused; the row is no longer pending.
	assert.ErrorIs(t, s.MarkMessageSent(ctx, m1.ID), ErrNotFound)

	require.NoError(t, s.CancelQueuedMessage(ctx, m2.ID))
	_, err = s.NextQueuedMessage(ctx, "session-aaaaaaaa")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	_, err := s.QueueMessage(ctx, "session-aaaaaaaa", "a", "web")
	require.NoError(t, err)
	_, err = s.QueueMessage(ctx, "session-aaaaaaaa", "b", "web")
	require.NoError(t, err)

	n, err := s.ClearQueue(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	count, err := s.QueueCount(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	_, err := s.QueueMessage(ctx, "session-aaaaaaaa", "queued", "web")
	require.NoError(t, err)
	require.NoError(t, s.AddEvent(ctx, "session-aaaaaaaa", "status_changed", map[string]string{"status": "running"}))
	require.NoError(t, s.AddChatMessage(ctx, &models.ChatMessage{
		SessionID: "session-aaaaaaaa", Type: "user", Content: "hi", Source: "web",
	}))

	require.NoError(t, s.DeleteSession(ctx, "session-aaaaaaaa"))

	_, err = s.GetSession(ctx, "session-aaaaaaaa")
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, s.ro.QueryRow(`SELECT COUNT(*) FROM queued_messages`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.ro.QueryRow(`SELECT COUNT(*) FROM session_events`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.ro.QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&n))
	assert.Zero(t, n)
}

func TestChatPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddChatMessage(ctx, &models.ChatMessage{
			SessionID: "session-aaaaaaaa", Type: "user", Content: "msg", Source: "web",
		}))
	}

	page, err := s.ListChatMessages(ctx, "session-aaaaaaaa", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.ListChatMessages(ctx, "session-aaaaaaaa", 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "session-aaaaaaaa", "/proj/x")

	// Unsaved settings come back zero-valued, not as an error.
	st, err := s.GetSettings(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Empty(t, st.Model)

	require.NoError(t, s.PutSettings(ctx, &models.SessionSettings{
		SessionID: "session-aaaaaaaa", Model: "fast", AutonomyLevel: "high",
	}))
	require.NoError(t, s.PutSettings(ctx, &models.SessionSettings{
		SessionID: "session-aaaaaaaa", Model: "smart", AutonomyLevel: "low",
	}))

	st, err = s.GetSettings(ctx, "session-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "smart", st.Model)
	assert.Equal(t, "low", st.AutonomyLevel)
}

func TestUpdateStatusUnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSessionStatus(context.Background(), "missing", models.StatusStopped)
	assert.True(t, errors.Is(err, ErrNotFound))
}
