package store

import (
	"context"
	"fmt"

	"tutor/types"
)

// AssistantStorer persists assistants with their content trees. List methods
// return assistants without content collections.
type AssistantStorer interface {
	CreateAssistant(context.Context, *types.Assistant) error
	GetAssistant(context.Context, string) (*types.Assistant, error)
	ListAssistantsByOwner(context.Context, string) ([]types.Assistant, error)
	ListAssistantsForUser(context.Context, string) ([]types.Assistant, error)
	UpdateAssistant(context.Context, string, map[string]any) (*types.Assistant, error)
	AddUser(ctx context.Context, assistantID, userID string) error
	RemoveUser(ctx context.Context, assistantID, userID string) error
	AppendContent(ctx context.Context, assistantID string, content *types.Content) error
}

// ConversationStorer persists conversations. Messages are append-only.
type ConversationStorer interface {
	SaveConversation(context.Context, *types.Conversation) error
	GetConversation(context.Context, string) (*types.Conversation, error)
	ListConversations(ctx context.Context, userID, assistantID string) ([]types.Conversation, error)
}

type DBStorer interface {
	AssistantStorer
	ConversationStorer
	Init(context.Context) error
	Close() error
}

// EmbeddingIndex stores facet vectors. Every query is scoped by assistant and label.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, key types.IndexKey, vector []float32) error
	Query(ctx context.Context, filter types.IndexFilter, vector []float32, topK int) ([]types.IndexMatch, error)
}

// updatable maps the sparse update keys to assistant columns.
var updatable = map[string]bool{
	"subject":         true,
	"class_name":      true,
	"about":           true,
	"profile_picture": true,
}

func checkUpdate(set map[string]any) error {
	if len(set) == 0 {
		return fmt.Errorf("%w: empty update", types.ErrInvalidID)
	}
	for k, v := range set {
		if !updatable[k] {
			return fmt.Errorf("%w: field %q is not updatable", types.ErrInvalidID, k)
		}
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%w: field %q must be a string", types.ErrInvalidID, k)
		}
	}
	return nil
}

// checkContent validates ids before a content tree is persisted.
func checkContent(assistantID string, c *types.Content) error {
	if err := types.CheckID(assistantID); err != nil {
		return err
	}
	if err := types.CheckID(c.ID); err != nil {
		return err
	}
	if !c.Label.Valid() {
		return fmt.Errorf("%w: label %q", types.ErrInvalidID, c.Label)
	}
	seen := make(map[string]bool, len(c.Digests))
	for _, d := range c.Digests {
		if err := types.CheckID(d.ID); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: duplicate digest id %s", types.ErrInvalidID, d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}
