package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor/store"
	"tutor/types"
)

func newService(t *testing.T) (*Service, *store.MemoryStore, *types.Assistant) {
	t.Helper()
	s := store.NewMemoryStore()
	a := &types.Assistant{OwnerID: "teacher", Subject: "Biology", ClassName: "7B"}
	require.NoError(t, s.CreateAssistant(context.Background(), a))
	require.NoError(t, s.AddUser(context.Background(), a.ID, "student"))

	f := newEngineFixture(fakeTurn{md: completeTurn})
	f.engine.store = s
	return NewService(s, s, f.engine, nopLogger()), s, a
}

func TestChatCreatesThenContinuesConversation(t *testing.T) {
	svc, _, a := newService(t)
	ctx := context.Background()

	first, err := svc.Chat(ctx, "student", types.ChatParams{AssistantID: a.ID, Message: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ConversationID)

	second, err := svc.Chat(ctx, "student", types.ChatParams{AssistantID: a.ID, ConversationID: first.ConversationID, Message: "more"})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	got, err := svc.Conversation(ctx, "student", first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, got.Conversation.Messages, 4)
	assert.NotNil(t, got.References.Own)

	list, err := svc.Conversations(ctx, "student", a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ConversationID, list[0].ID)
}

func TestChatAuthorization(t *testing.T) {
	svc, s, a := newService(t)
	ctx := context.Background()

	_, err := svc.Chat(ctx, "stranger", types.ChatParams{AssistantID: a.ID, Message: "hi"})
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	_, err = svc.Chat(ctx, "student", types.ChatParams{AssistantID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, types.ErrEntityNotFound)

	_, err = svc.Chat(ctx, "student", types.ChatParams{AssistantID: a.ID, ConversationID: "nope", Message: "hi"})
	assert.ErrorIs(t, err, types.ErrConversationNotFound)

	// the owner may try the assistant out
	_, err = svc.Chat(ctx, "teacher", types.ChatParams{AssistantID: a.ID, Message: "hi"})
	assert.NoError(t, err)

	first, err := svc.Chat(ctx, "student", types.ChatParams{AssistantID: a.ID, Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, s.AddUser(ctx, a.ID, "other"))
	_, err = svc.Chat(ctx, "other", types.ChatParams{AssistantID: a.ID, ConversationID: first.ConversationID, Message: "hi"})
	assert.ErrorIs(t, err, types.ErrConversationNotFound)
	_, err = svc.Conversation(ctx, "other", first.ConversationID)
	assert.ErrorIs(t, err, types.ErrConversationNotFound)

	b := &types.Assistant{OwnerID: "teacher", Subject: "Physics", ClassName: "7B", AllowedUsers: []string{"student"}}
	require.NoError(t, s.CreateAssistant(ctx, b))
	_, err = svc.Chat(ctx, "student", types.ChatParams{AssistantID: b.ID, ConversationID: first.ConversationID, Message: "hi"})
	assert.ErrorIs(t, err, types.ErrConversationNotFound, "conversation belongs to another assistant")
}
