package types

import (
	"fmt"
	"time"
)

type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
)

type UserTurn struct {
	Message         string   `json:"message"`
	RefinedQuestion string   `json:"refined_question"`
	Title           string   `json:"title"`
	Topics          []string `json:"topics"`
	Keywords        []string `json:"keywords"`
}

type References struct {
	Own       []RankedMatch `json:"own"`
	Supported []RankedMatch `json:"supported"`
}

type AssistantTurn struct {
	Message    string     `json:"message"`
	References References `json:"references"`
}

// Message is a tagged variant: Kind selects which payload is set. Build it with
// NewUserMessage or NewAssistantMessage.
type Message struct {
	Kind      MessageKind    `json:"sender"`
	User      *UserTurn      `json:"user,omitempty"`
	Assistant *AssistantTurn `json:"assistant,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewUserMessage(t UserTurn, at time.Time) Message {
	return Message{Kind: KindUser, User: &t, CreatedAt: at}
}

func NewAssistantMessage(t AssistantTurn, at time.Time) Message {
	return Message{Kind: KindAssistant, Assistant: &t, CreatedAt: at}
}

func (m Message) Validate() error {
	switch m.Kind {
	case KindUser:
		if m.User == nil || m.Assistant != nil {
			return fmt.Errorf("malformed user message")
		}
	case KindAssistant:
		if m.Assistant == nil || m.User != nil {
			return fmt.Errorf("malformed assistant message")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// Text returns the raw text of either payload.
func (m Message) Text() string {
	switch m.Kind {
	case KindUser:
		return m.User.Message
	case KindAssistant:
		return m.Assistant.Message
	}
	return ""
}

// Conversation is New while ID is empty and Active once persisted.
type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AssistantID string    `json:"assistant_id"`
	Summary     string    `json:"conversation_summary"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewConversation(userID, assistantID string) *Conversation {
	return &Conversation{UserID: userID, AssistantID: assistantID}
}

func (c *Conversation) IsNew() bool {
	return c.ID == ""
}

// Append adds messages in order, rejecting malformed ones.
func (c *Conversation) Append(msgs ...Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	c.Messages = append(c.Messages, msgs...)
	return nil
}

// Recent returns up to n of the latest messages.
func (c *Conversation) Recent(n int) []Message {
	if len(c.Messages) <= n {
		return append([]Message(nil), c.Messages...)
	}
	return append([]Message(nil), c.Messages[len(c.Messages)-n:]...)
}

// LastReferences returns the references of the most recent assistant turn.
func (c *Conversation) LastReferences() References {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Kind == KindAssistant {
			return c.Messages[i].Assistant.References
		}
	}
	return References{Own: []RankedMatch{}, Supported: []RankedMatch{}}
}
