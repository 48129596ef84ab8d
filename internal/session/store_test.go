package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNewSession(t *testing.T) {
	s := NewStore()

	id := s.CreateNewSession(map[string]any{"chip_id": "64Qv3"})
	require.NotEmpty(t, id)
	assert.Equal(t, id, s.ActiveSessionID())

	sess := s.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, PlaceholderTitle, sess.Title)
	assert.NotNil(t, sess.Messages, "copies keep an empty, non-nil message list")
	assert.Empty(t, sess.Messages)
	assert.NotNil(t, s.List()[0].Messages)
	assert.Equal(t, "64Qv3", sess.Context["chip_id"])
	assert.False(t, sess.CreatedAt.IsZero())

	other := s.CreateNewSession(nil)
	assert.NotEqual(t, id, other)
	assert.Equal(t, other, s.ActiveSessionID(), "newest session becomes active")
}

func TestSwitchSession(t *testing.T) {
	s := NewStore()
	first := s.CreateNewSession(nil)
	second := s.CreateNewSession(nil)

	assert.True(t, s.SwitchSession(first))
	assert.Equal(t, first, s.ActiveSessionID())

	assert.False(t, s.SwitchSession("missing"), "unknown id is a no-op")
	assert.Equal(t, first, s.ActiveSessionID())

	assert.True(t, s.SwitchSession(second))
	assert.Equal(t, second, s.ActiveSessionID())
}

func TestDeleteSession(t *testing.T) {
	t.Run("deleting the active session clears the pointer", func(t *testing.T) {
		s := NewStore()
		keep := s.CreateNewSession(nil)
		active := s.CreateNewSession(nil)

		assert.True(t, s.DeleteSession(active))
		assert.Empty(t, s.ActiveSessionID())
		assert.Nil(t, s.ActiveSession())

		_, ok := s.Get(keep)
		assert.True(t, ok)
	})

	t.Run("deleting an inactive session keeps the pointer", func(t *testing.T) {
		s := NewStore()
		other := s.CreateNewSession(nil)
		active := s.CreateNewSession(nil)

		assert.True(t, s.DeleteSession(other))
		assert.Equal(t, active, s.ActiveSessionID())
	})

	t.Run("last session and empty store", func(t *testing.T) {
		s := NewStore()
		only := s.CreateNewSession(nil)

		assert.NotPanics(t, func() {
			assert.True(t, s.DeleteSession(only))
			assert.False(t, s.DeleteSession(only))
		})
		assert.Empty(t, s.ActiveSessionID())
		assert.Empty(t, s.List())
		assert.False(t, s.ClearActiveSession())
	})
}

func TestUpdateSessionMessagesReplacesWholesale(t *testing.T) {
	s := NewStore()
	id := s.CreateNewSession(nil)

	msgs := []Message{{Role: RoleUser, Content: "T1 of Q12?"}}
	require.NoError(t, s.UpdateSessionMessages(id, msgs))

	msgs[0].Content = "mutated by caller"
	sess, _ := s.Get(id)
	assert.Equal(t, "T1 of Q12?", sess.Messages[0].Content, "store keeps its own copy")

	require.NoError(t, s.UpdateSessionMessages(id, []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	}))
	sess, _ = s.Get(id)
	assert.Len(t, sess.Messages, 2)

	assert.ErrorIs(t, s.UpdateSessionMessages("missing", nil), ErrNotFound)
}

func TestAutoTitleSession(t *testing.T) {
	s := NewStore()
	id := s.CreateNewSession(nil)

	assert.False(t, s.AutoTitleSession(id, "   "), "blank text gives no title")

	assert.True(t, s.AutoTitleSession(id, "Why did the\nT2 echo fit fail on qubit 12 last night?"))
	sess, _ := s.Get(id)
	assert.Equal(t, "Why did the T2 echo fit fail o...", sess.Title)

	assert.False(t, s.AutoTitleSession(id, "second message"), "already titled")
	sess, _ = s.Get(id)
	assert.Equal(t, "Why did the T2 echo fit fail o...", sess.Title)

	assert.False(t, s.AutoTitleSession("missing", "x"))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short", DeriveTitle("  short  "))
	assert.Equal(t, "量子ビット12のT1を教えて", DeriveTitle("量子ビット12のT1を教えて"))
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz0123...", DeriveTitle(long))
}

func TestClearActiveSession(t *testing.T) {
	s := NewStore()
	id := s.CreateNewSession(nil)
	require.NoError(t, s.UpdateSessionMessages(id, []Message{{Role: RoleUser, Content: "hi"}}))

	assert.True(t, s.ClearActiveSession())
	sess, ok := s.Get(id)
	require.True(t, ok, "session survives")
	assert.Empty(t, sess.Messages)
	assert.Equal(t, id, s.ActiveSessionID())
}

func TestSubscribe(t *testing.T) {
	s := NewStore()

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	id := s.CreateNewSession(nil)
	require.NoError(t, s.UpdateSessionMessages(id, []Message{{Role: RoleUser, Content: "x"}}))
	s.AutoTitleSession(id, "x")
	s.SwitchSession("missing")
	s.DeleteSession(id)

	require.Len(t, changes, 4)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, id, changes[0].ActiveSessionID)
	assert.Equal(t, ChangeMessages, changes[1].Kind)
	assert.Equal(t, ChangeTitled, changes[2].Kind)
	assert.Equal(t, ChangeDeleted, changes[3].Kind)
	assert.Empty(t, changes[3].ActiveSessionID)

	unsubscribe()
	s.CreateNewSession(nil)
	assert.Len(t, changes, 4)
}

func TestListAndResolve(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	older := s.CreateNewSession(nil)
	newer := s.CreateNewSession(nil)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0].ID)
	assert.Equal(t, older, list[1].ID)

	got, err := s.Resolve(older)
	require.NoError(t, err)
	assert.Equal(t, older, got)

	_, err = s.Resolve("zzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenPersistsEveryMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	s, err := Open(path)
	require.NoError(t, err)
	id := s.CreateNewSession(map[string]any{"chip_id": "64Q"})
	require.NoError(t, s.UpdateSessionMessages(id, []Message{
		{Role: RoleUser, Content: "summarize chip"},
		{Role: RoleAssistant, Content: `{"blocks":[]}`},
	}))
	s.AutoTitleSession(id, "summarize chip")

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, id, reopened.ActiveSessionID())

	sess, ok := reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, "summarize chip", sess.Title)
	assert.Len(t, sess.Messages, 2)
	assert.Equal(t, "64Q", sess.Context["chip_id"])

	reopened.DeleteSession(id)
	again, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, again.List())
	assert.Empty(t, again.ActiveSessionID())
}

func TestLoadDropsDanglingActiveID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"activeSessionId":"gone","sessions":{"a":{"title":"x","messages":null}}}`), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.ActiveSessionID())

	sess, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", sess.ID)
	assert.NotNil(t, sess.Messages)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := Open(path)
	assert.ErrorContains(t, err, "failed to parse sessions")
}

func TestWatchReportsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	require.NoError(t, Watch(ctx, path, 20*time.Millisecond, func() { changed <- struct{}{} }))

	other, err := Open(path)
	require.NoError(t, err)
	id := other.CreateNewSession(nil)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	s := NewStore()
	require.NoError(t, s.Load(path))
	assert.Equal(t, id, s.ActiveSessionID())
}

func TestWatchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "sessions.json")
	assert.Error(t, Watch(context.Background(), path, time.Millisecond, func() {}))
}

func TestSaveKeepsSessionsWrittenByAnotherStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	chat, err := Open(path)
	require.NoError(t, err)
	chatID := chat.CreateNewSession(nil)

	ask, err := Open(path)
	require.NoError(t, err)
	askID := ask.CreateNewSession(nil)
	require.NoError(t, ask.UpdateSessionMessages(askID, []Message{
		{Role: RoleUser, Content: "from another terminal"},
		{Role: RoleAssistant, Content: "answer"},
	}))

	require.NoError(t, chat.UpdateSessionMessages(chatID, []Message{
		{Role: RoleUser, Content: "from the chat"},
	}))

	onDisk := NewStore()
	require.NoError(t, onDisk.Load(path))
	fromAsk, ok := onDisk.Get(askID)
	require.True(t, ok, "session written by the other store survives")
	assert.Len(t, fromAsk.Messages, 2)
	fromChat, ok := onDisk.Get(chatID)
	require.True(t, ok)
	assert.Equal(t, "from the chat", fromChat.Messages[0].Content)
	assert.Equal(t, askID, onDisk.ActiveSessionID(), "active id is only written by the store that changed it")

	_, ok = chat.Get(askID)
	assert.True(t, ok, "the merged collection is visible in memory")
	assert.Equal(t, chatID, chat.ActiveSessionID())
}

func TestSaveHonoursDeletionsFromEitherSide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	a, err := Open(path)
	require.NoError(t, err)
	keep := a.CreateNewSession(nil)
	gone := a.CreateNewSession(nil)

	b, err := Open(path)
	require.NoError(t, err)
	require.True(t, b.DeleteSession(gone))

	a.AutoTitleSession(keep, "still here")

	onDisk := NewStore()
	require.NoError(t, onDisk.Load(path))
	_, ok := onDisk.Get(gone)
	assert.False(t, ok, "a session deleted elsewhere is not resurrected")
	sess, ok := onDisk.Get(keep)
	require.True(t, ok)
	assert.Equal(t, "still here", sess.Title)

	require.True(t, a.DeleteSession(keep))
	require.NoError(t, onDisk.Load(path))
	assert.Empty(t, onDisk.List())
}

func TestReloadKeepsActiveSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	chat, err := Open(path)
	require.NoError(t, err)
	mine := chat.CreateNewSession(nil)

	other, err := Open(path)
	require.NoError(t, err)
	theirs := other.CreateNewSession(nil)

	require.NoError(t, chat.Reload(path))
	assert.Equal(t, mine, chat.ActiveSessionID())
	_, ok := chat.Get(theirs)
	assert.True(t, ok)

	require.True(t, other.DeleteSession(mine))
	require.NoError(t, chat.Reload(path))
	assert.Equal(t, theirs, chat.ActiveSessionID(), "falls back to the stored active session")
}
