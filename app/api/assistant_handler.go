package api

import (
	"context"
	"reflect"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tutor/app/middleware"
	"tutor/store"
	"tutor/types"
)

type AssistantHandler struct {
	store store.AssistantStorer
}

func NewAssistantHandler(s store.AssistantStorer) *AssistantHandler {
	return &AssistantHandler{
		store: s,
	}
}

func (h *AssistantHandler) HandleCreate(c *fiber.Ctx) error {
	var params types.CreateAssistantParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	a := &types.Assistant{
		OwnerID:        middleware.UserID(c),
		Subject:        params.Subject,
		ClassName:      params.ClassName,
		About:          params.About,
		ProfilePicture: params.ProfilePicture,
	}
	if err := h.store.CreateAssistant(c.UserContext(), a); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// HandleList lists the caller's own assistants.
func (h *AssistantHandler) HandleList(c *fiber.Ctx) error {
	list, err := h.store.ListAssistantsByOwner(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// HandleListForUser lists the assistants the caller may chat with.
func (h *AssistantHandler) HandleListForUser(c *fiber.Ctx) error {
	list, err := h.store.ListAssistantsForUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *AssistantHandler) HandleGet(c *fiber.Ctx) error {
	a, err := ownedAssistant(c.UserContext(), h.store, c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *AssistantHandler) HandleUpdate(c *fiber.Ctx) error {
	var params types.UpdateAssistantParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	v := reflect.ValueOf(params)
	t := reflect.TypeOf(params)
	querySet := make(map[string]any)
	for i := range v.NumField() {
		key := strings.Split(t.Field(i).Tag.Get("db"), ",")[0]
		if value, ok := v.Field(i).Interface().(string); ok && value != "" {
			querySet[key] = value
		}
	}
	if len(querySet) == 0 {
		return ErrBadRequest()
	}

	id := c.Params("id")
	if _, err := ownedAssistant(c.UserContext(), h.store, id, middleware.UserID(c)); err != nil {
		return err
	}
	resp, err := h.store.UpdateAssistant(c.UserContext(), id, querySet)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *AssistantHandler) HandleAddUser(c *fiber.Ctx) error {
	var params types.MemberParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	id := c.Params("id")
	if _, err := ownedAssistant(c.UserContext(), h.store, id, middleware.UserID(c)); err != nil {
		return err
	}
	if err := h.store.AddUser(c.UserContext(), id, params.UserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": "ok"})
}

func (h *AssistantHandler) HandleRemoveUser(c *fiber.Ctx) error {
	id, userID := c.Params("id"), c.Params("userID")
	if userID == "" {
		return ErrInvalidID()
	}
	if _, err := ownedAssistant(c.UserContext(), h.store, id, middleware.UserID(c)); err != nil {
		return err
	}
	if err := h.store.RemoveUser(c.UserContext(), id, userID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": "ok"})
}

// ownedAssistant loads an assistant and checks that ownerID owns it.
func ownedAssistant(ctx context.Context, s store.AssistantStorer, id, ownerID string) (*types.Assistant, error) {
	if id == "" {
		return nil, ErrInvalidID()
	}
	a, err := s.GetAssistant(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, ErrForbidden("assistant belongs to another owner")
	}
	return a, nil
}
