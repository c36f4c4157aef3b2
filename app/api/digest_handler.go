package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"tutor/app/middleware"
	"tutor/store"
	"tutor/types"
)

type Digester interface {
	Digest(ctx context.Context, assistantID, locator string, label types.Label) (*types.Content, error)
}

type DigestHandler struct {
	assistants store.AssistantStorer
	pipeline   Digester
}

func NewDigestHandler(assistants store.AssistantStorer, pipeline Digester) *DigestHandler {
	return &DigestHandler{
		assistants: assistants,
		pipeline:   pipeline,
	}
}

// HandleDigest ingests the source at file_url into the caller's assistant.
func (h *DigestHandler) HandleDigest(c *fiber.Ctx) error {
	var params types.DigestParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if _, err := ownedAssistant(c.UserContext(), h.assistants, params.AssistantID, middleware.UserID(c)); err != nil {
		return err
	}

	content, err := h.pipeline.Digest(c.UserContext(), params.AssistantID, params.Locator, params.Label)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(types.DigestResponse{Content: content})
}
