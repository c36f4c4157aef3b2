package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"tutor/types"
)

// CachedAssistants serves GetAssistant from memory. Any write through it drops
// the cached entry for that assistant. Returned assistants are shared and must
// not be modified.
type CachedAssistants struct {
	AssistantStorer
	cache *cache.Cache
}

func NewCachedAssistants(next AssistantStorer, ttl time.Duration) *CachedAssistants {
	return &CachedAssistants{
		AssistantStorer: next,
		cache:           cache.New(ttl, 2*ttl),
	}
}

func (c *CachedAssistants) GetAssistant(ctx context.Context, id string) (*types.Assistant, error) {
	if x, found := c.cache.Get(id); found {
		return x.(*types.Assistant), nil
	}
	a, err := c.AssistantStorer.GetAssistant(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, a, cache.DefaultExpiration)
	return a, nil
}

func (c *CachedAssistants) UpdateAssistant(ctx context.Context, id string, set map[string]any) (*types.Assistant, error) {
	defer c.cache.Delete(id)
	return c.AssistantStorer.UpdateAssistant(ctx, id, set)
}

func (c *CachedAssistants) AddUser(ctx context.Context, assistantID, userID string) error {
	defer c.cache.Delete(assistantID)
	return c.AssistantStorer.AddUser(ctx, assistantID, userID)
}

func (c *CachedAssistants) RemoveUser(ctx context.Context, assistantID, userID string) error {
	defer c.cache.Delete(assistantID)
	return c.AssistantStorer.RemoveUser(ctx, assistantID, userID)
}

func (c *CachedAssistants) AppendContent(ctx context.Context, assistantID string, content *types.Content) error {
	defer c.cache.Delete(assistantID)
	return c.AssistantStorer.AppendContent(ctx, assistantID, content)
}
