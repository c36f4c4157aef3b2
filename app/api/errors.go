package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"tutor/types"
)

// ErrorHandler renders API, validation and domain errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}
	var idxErr *types.IndexingError
	if errors.As(err, &idxErr) {
		slog.Warn("request left content partially indexed", "path", c.Path(), "content", idxErr.ContentID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(IndexingFailure{
			Error:     NewError(fiber.StatusBadGateway, err.Error()),
			ContentID: idxErr.ContentID,
		})
	}

	apiErr = fromError(err)
	if apiErr.Code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
	} else {
		slog.Info("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

func fromError(err error) Error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return NewError(fe.Code, fe.Message)
	case errors.Is(err, types.ErrConversationNotFound), errors.Is(err, types.ErrEntityNotFound):
		return NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrAccessDenied):
		return NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrUnsupportedMediaKind), errors.Is(err, types.ErrInvalidID):
		return NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrExtraction), errors.Is(err, types.ErrMetadataParse), errors.Is(err, types.ErrRemoteService):
		return NewError(fiber.StatusBadGateway, err.Error())
	}
	return NewError(fiber.StatusInternalServerError, "internal server error")
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// IndexingFailure is returned when content was saved but some facets were not indexed.
type IndexingFailure struct {
	Error
	ContentID string `json:"content_id"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrForbidden(msg string) Error {
	return Error{
		Code:    fiber.StatusForbidden,
		Message: msg,
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
