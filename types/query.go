package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New()

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type DigestParams struct {
	AssistantID string `json:"assistant_id" validate:"required"`
	Locator     string `json:"file_url" validate:"required"`
	Label       Label  `json:"label" validate:"required,oneof=own supported"`
}

func (p *DigestParams) Validate() map[string]string {
	return validateStruct(p)
}

type ChatParams struct {
	AssistantID    string `json:"assistant_id" validate:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message" validate:"required"`
}

func (p *ChatParams) Validate() map[string]string {
	return validateStruct(p)
}

type CreateAssistantParams struct {
	Subject        string `json:"subject" validate:"required,max=200"`
	ClassName      string `json:"class_name" validate:"required,max=200"`
	About          string `json:"about,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty" validate:"omitempty,url"`
}

func (p *CreateAssistantParams) Validate() map[string]string {
	return validateStruct(p)
}

// UpdateAssistantParams is a sparse update: only non-empty fields are written.
type UpdateAssistantParams struct {
	Subject        string `db:"subject" json:"subject,omitempty" validate:"omitempty,max=200"`
	ClassName      string `db:"class_name" json:"class_name,omitempty" validate:"omitempty,max=200"`
	About          string `db:"about" json:"about,omitempty"`
	ProfilePicture string `db:"profile_picture" json:"profile_picture,omitempty" validate:"omitempty,url"`
}

func (p *UpdateAssistantParams) Validate() map[string]string {
	return validateStruct(p)
}

type MemberParams struct {
	UserID string `json:"user_id" validate:"required"`
}

func (p *MemberParams) Validate() map[string]string {
	return validateStruct(p)
}

type DigestResponse struct {
	Content *Content `json:"content"`
}

type ChatResponse struct {
	ConversationID string        `json:"conversation_id"`
	Reply          string        `json:"reply"`
	Own            []RankedMatch `json:"own_references"`
	Supported      []RankedMatch `json:"supported_references"`
}

type ConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
	References   References    `json:"last_references"`
}
