package chat

import (
	"context"
	"fmt"
	"log/slog"

	"tutor/store"
	"tutor/types"
)

// Responder answers one turn. *Engine implements it.
type Responder interface {
	Respond(ctx context.Context, userMessage string, a *types.Assistant, conv *types.Conversation) (*Reply, error)
}

// Service authorizes end users and routes their turns to the engine.
type Service struct {
	assistants    store.AssistantStorer
	conversations store.ConversationStorer
	engine        Responder
	logger        *slog.Logger
}

func NewService(assistants store.AssistantStorer, conversations store.ConversationStorer, engine Responder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assistants:    assistants,
		conversations: conversations,
		engine:        engine,
		logger:        logger.With("component", "chat"),
	}
}

// Chat answers userID's message. An empty conversation id starts a new
// conversation, which is persisted by the first successful turn.
func (s *Service) Chat(ctx context.Context, userID string, params types.ChatParams) (*types.ChatResponse, error) {
	a, err := s.assistants.GetAssistant(ctx, params.AssistantID)
	if err != nil {
		return nil, err
	}
	if !canChat(a, userID) {
		return nil, fmt.Errorf("%w: user %s is not allowed to use assistant %s", types.ErrAccessDenied, userID, a.ID)
	}

	conv := types.NewConversation(userID, a.ID)
	if params.ConversationID != "" {
		if conv, err = s.owned(ctx, userID, params.ConversationID); err != nil {
			return nil, err
		}
		if conv.AssistantID != a.ID {
			return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, params.ConversationID)
		}
	}

	reply, err := s.engine.Respond(ctx, params.Message, a, conv)
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		ConversationID: reply.Conversation.ID,
		Reply:          reply.Message,
		Own:            reply.Own,
		Supported:      reply.Supported,
	}, nil
}

// Conversation returns the history of one of userID's conversations together
// with the references of its latest reply.
func (s *Service) Conversation(ctx context.Context, userID, id string) (*types.ConversationResponse, error) {
	conv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &types.ConversationResponse{Conversation: conv, References: conv.LastReferences()}, nil
}

// Conversations lists userID's conversations, optionally for one assistant.
func (s *Service) Conversations(ctx context.Context, userID, assistantID string) ([]types.Conversation, error) {
	return s.conversations.ListConversations(ctx, userID, assistantID)
}

// owned hides conversations of other users behind ErrConversationNotFound.
func (s *Service) owned(ctx context.Context, userID, id string) (*types.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		s.logger.Warn("conversation requested by another user", "conversation", id, "user", userID)
		return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, id)
	}
	return conv, nil
}

func canChat(a *types.Assistant, userID string) bool {
	return a.OwnerID == userID || a.IsAllowed(userID)
}
