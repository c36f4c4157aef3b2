package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutor/types"
)

// MemoryStore is an in-process DBStorer. Values are copied on the way in and out.
type MemoryStore struct {
	mu            sync.RWMutex
	assistants    map[string]*types.Assistant
	conversations map[string]*types.Conversation
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assistants:    make(map[string]*types.Assistant),
		conversations: make(map[string]*types.Conversation),
		now:           time.Now,
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateAssistant(_ context.Context, a *types.Assistant) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := types.CheckID(a.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[a.ID]; ok {
		return fmt.Errorf("%w: assistant %s already exists", types.ErrInvalidID, a.ID)
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.assistants[a.ID] = copyAssistant(a, true)
	return nil
}

func (s *MemoryStore) GetAssistant(_ context.Context, id string) (*types.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, types.NotFound("assistant", id)
	}
	return copyAssistant(a, true), nil
}

func (s *MemoryStore) ListAssistantsByOwner(_ context.Context, ownerID string) ([]types.Assistant, error) {
	return s.list(func(a *types.Assistant) bool { return a.OwnerID == ownerID }), nil
}

func (s *MemoryStore) ListAssistantsForUser(_ context.Context, userID string) ([]types.Assistant, error) {
	return s.list(func(a *types.Assistant) bool { return a.IsAllowed(userID) }), nil
}

func (s *MemoryStore) list(keep func(*types.Assistant) bool) []types.Assistant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Assistant{}
	for _, a := range s.assistants {
		if keep(a) {
			out = append(out, *copyAssistant(a, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) UpdateAssistant(_ context.Context, id string, set map[string]any) (*types.Assistant, error) {
	if err := checkUpdate(set); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, types.NotFound("assistant", id)
	}
	for k, v := range set {
		val := v.(string)
		switch k {
		case "subject":
			a.Subject = val
		case "class_name":
			a.ClassName = val
		case "about":
			a.About = val
		case "profile_picture":
			a.ProfilePicture = val
		}
	}
	a.UpdatedAt = s.now()
	return copyAssistant(a, true), nil
}

func (s *MemoryStore) AddUser(_ context.Context, assistantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[assistantID]
	if !ok {
		return types.NotFound("assistant", assistantID)
	}
	if !a.IsAllowed(userID) {
		a.AllowedUsers = append(a.AllowedUsers, userID)
	}
	return nil
}

func (s *MemoryStore) RemoveUser(_ context.Context, assistantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[assistantID]
	if !ok {
		return types.NotFound("assistant", assistantID)
	}
	a.AllowedUsers = slices.DeleteFunc(a.AllowedUsers, func(u string) bool { return u == userID })
	return nil
}

func (s *MemoryStore) AppendContent(_ context.Context, assistantID string, c *types.Content) error {
	if err := checkContent(assistantID, c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[assistantID]
	if !ok {
		return types.NotFound("assistant", assistantID)
	}
	for _, label := range types.Labels {
		for _, existing := range a.Collection(label) {
			if existing.ID == c.ID {
				return fmt.Errorf("%w: content %s already stored", types.ErrInvalidID, c.ID)
			}
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	cp := copyContent(*c)
	if c.Label == types.LabelOwn {
		a.OwnContent = append(a.OwnContent, cp)
	} else {
		a.SupportingContent = append(a.SupportingContent, cp)
	}
	a.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SaveConversation(_ context.Context, c *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c.IsNew() {
		c.ID = uuid.NewString()
		c.CreatedAt = now
	} else {
		stored, ok := s.conversations[c.ID]
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrConversationNotFound, c.ID)
		}
		if len(c.Messages) < len(stored.Messages) {
			return fmt.Errorf("conversation %s: messages are append-only", c.ID)
		}
	}
	c.UpdatedAt = now
	s.conversations[c.ID] = copyConversation(c)
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, id)
	}
	return copyConversation(c), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID, assistantID string) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Conversation{}
	for _, c := range s.conversations {
		if c.UserID != userID || (assistantID != "" && c.AssistantID != assistantID) {
			continue
		}
		cp := copyConversation(c)
		cp.Messages = nil
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func copyAssistant(a *types.Assistant, withContent bool) *types.Assistant {
	cp := *a
	cp.AllowedUsers = slices.Clone(a.AllowedUsers)
	cp.OwnContent, cp.SupportingContent = nil, nil
	if withContent {
		for _, c := range a.OwnContent {
			cp.OwnContent = append(cp.OwnContent, copyContent(c))
		}
		for _, c := range a.SupportingContent {
			cp.SupportingContent = append(cp.SupportingContent, copyContent(c))
		}
	}
	return &cp
}

func copyContent(c types.Content) types.Content {
	c.Topics = slices.Clone(c.Topics)
	c.Keywords = slices.Clone(c.Keywords)
	digests := make([]types.Digest, len(c.Digests))
	for i, d := range c.Digests {
		d.Topics = slices.Clone(d.Topics)
		d.Keywords = slices.Clone(d.Keywords)
		d.Questions = slices.Clone(d.Questions)
		digests[i] = d
	}
	c.Digests = digests
	return c
}

// copyConversation clones the message slice. Turn payloads are never mutated
// after creation so they are shared.
func copyConversation(c *types.Conversation) *types.Conversation {
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	return &cp
}
