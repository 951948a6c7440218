package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-ai/chat-platform/internal/model"
)

func TestMemoryStoreChatLifecycle(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	chat := &model.Chat{ID: "c1", UserID: "u1", Title: "first", Visibility: model.VisibilityPrivate, CreatedAt: time.Now()}
	require.NoError(t, st.SaveChat(ctx, chat))

	// Saving the same id again does not overwrite.
	dupe := *chat
	dupe.Title = "second"
	require.NoError(t, st.SaveChat(ctx, &dupe))

	got, err := st.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)

	deleted, err := st.DeleteChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", deleted.ID)

	_, err = st.GetChat(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.DeleteChat(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAppendMessagesIsIdempotent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.SaveChat(ctx, &model.Chat{ID: "c1", UserID: "u1"}))

	msg := model.Message{ID: "m1", ChatID: "c1", Role: model.RoleUser,
		Parts: []model.MessagePart{model.TextPart("hi")}, CreatedAt: time.Now()}
	require.NoError(t, st.AppendMessages(ctx, []model.Message{msg}))
	require.NoError(t, st.AppendMessages(ctx, []model.Message{msg}))

	messages, err := st.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestMemoryStoreDeleteChatRemovesMessages(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.SaveChat(ctx, &model.Chat{ID: "c1", UserID: "u1"}))
	require.NoError(t, st.AppendMessages(ctx, []model.Message{
		{ID: "m1", ChatID: "c1", Role: model.RoleUser},
	}))

	_, err := st.DeleteChat(ctx, "c1")
	require.NoError(t, err)

	messages, err := st.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMemoryStoreCountMessagesByUserSince(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.SaveChat(ctx, &model.Chat{ID: "mine", UserID: "u1"}))
	require.NoError(t, st.SaveChat(ctx, &model.Chat{ID: "theirs", UserID: "u2"}))
	require.NoError(t, st.AppendMessages(ctx, []model.Message{
		{ID: "m1", ChatID: "mine", Role: model.RoleUser, CreatedAt: now},
		{ID: "m2", ChatID: "mine", Role: model.RoleAssistant, CreatedAt: now},
		{ID: "m3", ChatID: "mine", Role: model.RoleUser, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "m4", ChatID: "theirs", Role: model.RoleUser, CreatedAt: now},
	}))

	count, err := st.CountMessagesByUserSince(ctx, "u1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only this user's user-role messages inside the window count")
}

func TestMemoryStoreListChatsByUser(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveChat(ctx, &model.Chat{
			ID: id, UserID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, st.SaveChat(ctx, &model.Chat{ID: "x", UserID: "u2", CreatedAt: base}))

	chats, err := st.ListChatsByUser(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c", chats[0].ID, "newest first")
	assert.Equal(t, "b", chats[1].ID)
}

func TestMemoryStoreStreamHandles(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateStreamHandle(ctx, &model.StreamHandle{ID: "s1", ChatID: "c1"}))

	handle, err := st.GetStreamHandle(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", handle.ChatID)

	_, err = st.GetStreamHandle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
