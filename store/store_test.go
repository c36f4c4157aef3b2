package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor/types"
)

func key(assistant, content, digest string, facet types.Facet, label types.Label) types.IndexKey {
	return types.IndexKey{AssistantID: assistant, ContentID: content, DigestID: digest, Facet: facet, Label: label}
}

func TestMemoryIndexOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	vec := []float32{1, 0}

	require.NoError(t, idx.Upsert(ctx, key("a1", "own-c", "d", types.FacetTitle, types.LabelOwn), vec))
	require.NoError(t, idx.Upsert(ctx, key("a1", "sup-c", "d", types.FacetTitle, types.LabelSupported), vec))
	require.NoError(t, idx.Upsert(ctx, key("a2", "other-c", "d", types.FacetTitle, types.LabelOwn), vec))

	matches, err := idx.Query(ctx, types.IndexFilter{AssistantID: "a1", Label: types.LabelOwn, Facet: types.FacetTitle}, vec, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "own-c", matches[0].Key.ContentID)

	matches, err = idx.Query(ctx, types.IndexFilter{AssistantID: "a1", Label: types.LabelSupported, Facet: types.FacetTitle}, vec, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sup-c", matches[0].Key.ContentID)
}

func TestMemoryIndexRejectsUnscopedQuery(t *testing.T) {
	idx := NewMemoryIndex(0)
	_, err := idx.Query(context.Background(), types.IndexFilter{Label: types.LabelOwn}, []float32{1}, 10)
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = idx.Query(context.Background(), types.IndexFilter{AssistantID: "a"}, []float32{1}, 10)
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestMemoryIndexRanksAndLimits(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	require.NoError(t, idx.Upsert(ctx, key("a", "far", "d", types.FacetText, types.LabelOwn), []float32{0, 1}))
	require.NoError(t, idx.Upsert(ctx, key("a", "near", "d", types.FacetText, types.LabelOwn), []float32{1, 0.1}))
	require.NoError(t, idx.Upsert(ctx, key("a", "mid", "d", types.FacetText, types.LabelOwn), []float32{1, 1}))
	require.NoError(t, idx.Upsert(ctx, key("a", "near", "d", types.FacetTopics, types.LabelOwn), []float32{1, 0}))

	assert.Error(t, idx.Upsert(ctx, key("a", "bad", "d", types.FacetText, types.LabelOwn), []float32{1, 0, 0}))

	matches, err := idx.Query(ctx, types.IndexFilter{AssistantID: "a", Label: types.LabelOwn, Facet: types.FacetText}, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].Key.ContentID)
	assert.Equal(t, "mid", matches[1].Key.ContentID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	// upsert replaces
	require.NoError(t, idx.Upsert(ctx, key("a", "far", "d", types.FacetText, types.LabelOwn), []float32{1, 0}))
	assert.Equal(t, 4, idx.Len())
}

func newAssistant(t *testing.T, s *MemoryStore) *types.Assistant {
	a := &types.Assistant{OwnerID: "teacher", Subject: "Math", ClassName: "7B", AllowedUsers: []string{"student"}}
	require.NoError(t, s.CreateAssistant(context.Background(), a))
	require.NotEmpty(t, a.ID)
	return a
}

func TestMemoryStoreContentGoesToOneCollection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAssistant(t, s)

	own := &types.Content{ID: "c1", Label: types.LabelOwn, Digests: []types.Digest{{ID: "d1"}, {ID: "d2"}}}
	sup := &types.Content{ID: "c2", Label: types.LabelSupported, Digests: []types.Digest{{ID: "d1"}}}
	require.NoError(t, s.AppendContent(ctx, a.ID, own))
	require.NoError(t, s.AppendContent(ctx, a.ID, sup))

	got, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.OwnContent, 1)
	require.Len(t, got.SupportingContent, 1)
	assert.Equal(t, "c1", got.OwnContent[0].ID)
	assert.Equal(t, []string{"d1", "d2"}, []string{got.OwnContent[0].Digests[0].ID, got.OwnContent[0].Digests[1].ID})

	again, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, got.OwnContent[0].Digests, again.OwnContent[0].Digests)

	assert.ErrorIs(t, s.AppendContent(ctx, a.ID, &types.Content{ID: "c1", Label: types.LabelSupported}), types.ErrInvalidID)
	assert.ErrorIs(t, s.AppendContent(ctx, a.ID, &types.Content{ID: "c3", Label: "mine"}), types.ErrInvalidID)
	assert.ErrorIs(t, s.AppendContent(ctx, a.ID, &types.Content{ID: "c__4", Label: types.LabelOwn}), types.ErrInvalidID)
	assert.ErrorIs(t, s.AppendContent(ctx, a.ID, &types.Content{ID: "c5", Label: types.LabelOwn, Digests: []types.Digest{{ID: "x"}, {ID: "x"}}}), types.ErrInvalidID)
	assert.ErrorIs(t, s.AppendContent(ctx, "missing", &types.Content{ID: "c6", Label: types.LabelOwn}), types.ErrEntityNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAssistant(t, s)
	require.NoError(t, s.AppendContent(ctx, a.ID, &types.Content{ID: "c1", Label: types.LabelOwn, Title: "T"}))

	got, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	got.OwnContent[0].Title = "changed"
	got.AllowedUsers[0] = "intruder"

	again, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "T", again.OwnContent[0].Title)
	assert.Equal(t, []string{"student"}, again.AllowedUsers)
}

func TestMemoryStoreAssistants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAssistant(t, s)

	_, err := s.GetAssistant(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrEntityNotFound)

	updated, err := s.UpdateAssistant(ctx, a.ID, map[string]any{"about": "Algebra basics"})
	require.NoError(t, err)
	assert.Equal(t, "Algebra basics", updated.About)
	assert.Equal(t, "Math", updated.Subject)

	_, err = s.UpdateAssistant(ctx, a.ID, map[string]any{"owner_id": "me"})
	assert.ErrorIs(t, err, types.ErrInvalidID)

	require.NoError(t, s.AddUser(ctx, a.ID, "second"))
	require.NoError(t, s.AddUser(ctx, a.ID, "second"))
	forUser, err := s.ListAssistantsForUser(ctx, "second")
	require.NoError(t, err)
	require.Len(t, forUser, 1)
	assert.Equal(t, []string{"student", "second"}, forUser[0].AllowedUsers)

	require.NoError(t, s.RemoveUser(ctx, a.ID, "second"))
	forUser, err = s.ListAssistantsForUser(ctx, "second")
	require.NoError(t, err)
	assert.Empty(t, forUser)

	byOwner, err := s.ListAssistantsByOwner(ctx, "teacher")
	require.NoError(t, err)
	assert.Len(t, byOwner, 1)
}

func TestMemoryStoreConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	c := types.NewConversation("student", "a1")
	require.True(t, c.IsNew())
	require.NoError(t, c.Append(types.NewUserMessage(types.UserTurn{Message: "hi"}, now)))
	require.NoError(t, s.SaveConversation(ctx, c))
	require.False(t, c.IsNew())

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)

	require.NoError(t, got.Append(types.NewAssistantMessage(types.AssistantTurn{Message: "hello"}, now)))
	got.Summary = "greeted"
	require.NoError(t, s.SaveConversation(ctx, got))

	again, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 2)
	assert.Equal(t, "greeted", again.Summary)

	truncated := *again
	truncated.Messages = truncated.Messages[:1]
	assert.Error(t, s.SaveConversation(ctx, &truncated))

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrConversationNotFound)

	ghost := &types.Conversation{ID: "ghost", UserID: "student", AssistantID: "a1"}
	assert.ErrorIs(t, s.SaveConversation(ctx, ghost), types.ErrConversationNotFound)

	list, err := s.ListConversations(ctx, "student", "a1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Messages)

	list, err = s.ListConversations(ctx, "someone-else", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

// countingStore counts GetAssistant calls.
type countingStore struct {
	AssistantStorer
	gets int
}

func (c *countingStore) GetAssistant(ctx context.Context, id string) (*types.Assistant, error) {
	c.gets++
	return c.AssistantStorer.GetAssistant(ctx, id)
}

func TestCachedAssistantsInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	a := newAssistant(t, mem)
	counter := &countingStore{AssistantStorer: mem}
	cached := NewCachedAssistants(counter, time.Minute)

	_, err := cached.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	_, err = cached.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.gets)

	require.NoError(t, cached.AppendContent(ctx, a.ID, &types.Content{ID: "c1", Label: types.LabelOwn}))
	got, err := cached.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.gets)
	assert.Len(t, got.OwnContent, 1)

	_, err = cached.GetAssistant(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrEntityNotFound)
}
