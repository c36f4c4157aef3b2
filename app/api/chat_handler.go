package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"tutor/app/middleware"
	"tutor/types"
)

type ChatService interface {
	Chat(ctx context.Context, userID string, params types.ChatParams) (*types.ChatResponse, error)
	Conversation(ctx context.Context, userID, id string) (*types.ConversationResponse, error)
	Conversations(ctx context.Context, userID, assistantID string) ([]types.Conversation, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{
		chat: chat,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	resp, err := h.chat.Chat(c.UserContext(), middleware.UserID(c), params)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *ChatHandler) HandleListConversations(c *fiber.Ctx) error {
	list, err := h.chat.Conversations(c.UserContext(), middleware.UserID(c), c.Query("assistant_id"))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *ChatHandler) HandleGetConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return ErrInvalidID()
	}
	resp, err := h.chat.Conversation(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
