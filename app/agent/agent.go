package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"tutor/model"
	"tutor/types"
)

const (
	ShortSummaryTokens = 100
	LongSummaryTokens  = 500

	// Greeting is the reply for turns whose metadata could not be extracted.
	Greeting = "Hello! I'm your class assistant. What would you like to learn about today?"
)

// agent wraps one LLM with timing and error mapping shared by every facade.
type agent struct {
	llm    model.LLM
	logger *slog.Logger
	name   string
}

func newAgent(llm model.LLM, logger *slog.Logger, name string) agent {
	if logger == nil {
		logger = slog.Default()
	}
	return agent{llm: llm, logger: logger.With("component", name), name: name}
}

func (a agent) generate(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	if a.logger.Enabled(ctx, slog.LevelDebug) {
		if n, err := CountTokens(system + prompt); err == nil {
			a.logger.Debug("prompt size", "tokens", n, "chars", len(system)+len(prompt))
		}
	}
	out, err := a.llm.Generate(ctx, system, prompt)
	if err != nil {
		a.logger.Error("llm call failed", "error", err)
		return "", types.Remote(a.name, err)
	}
	a.logger.Debug("llm answered", "took", time.Since(start))
	return strings.TrimSpace(out), nil
}

type Summarizer struct {
	agent
}

func NewSummarizer(llm model.LLM, logger *slog.Logger) *Summarizer {
	return &Summarizer{newAgent(llm, logger, "summarizer")}
}

func (s *Summarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	prompt := fmt.Sprintf(`Summarize the following text in up to %d tokens:

Text: %s`, maxTokens, text)
	return s.generate(ctx, "You are a helpful assistant that summarizes educational material.", prompt)
}

// Memory keeps the rolling conversation summary.
type Memory struct {
	agent
}

func NewMemory(llm model.LLM, logger *slog.Logger) *Memory {
	return &Memory{newAgent(llm, logger, "summary-updater")}
}

// Update returns a replacement for previous, folding in one exchange.
func (m *Memory) Update(ctx context.Context, previous, userMessage, reply string) (string, error) {
	prompt := fmt.Sprintf(`Given the previous conversation summary, the user's message, and the assistant's response, update the conversation summary.

Previous Summary: %s
User Message: %s
Assistant Response: %s

Updated Summary:`, previous, userMessage, reply)
	return m.generate(ctx, "You are a helpful assistant that updates conversation summaries.", prompt)
}

type Responder struct {
	agent
}

func NewResponder(llm model.LLM, logger *slog.Logger) *Responder {
	return &Responder{newAgent(llm, logger, "responder")}
}

func (r *Responder) Generate(ctx context.Context, req types.GenerationRequest) (string, error) {
	var recent strings.Builder
	for _, m := range req.RecentMessages {
		fmt.Fprintf(&recent, "%s: %s\n", m.Kind, m.Text())
	}

	ctxJSON, err := json.Marshal(map[string][]types.ContextEntry{
		"own":       nonNil(req.OwnContext),
		"supported": nonNil(req.SupportedContext),
	})
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	prompt := fmt.Sprintf(`Given the following conversation summary, the last two messages, and the context from relevant content, generate a response to the user's message. Adapt the response fully to the language, persona and tone of the texts in the "own" context. Prefer "own" context over "supported" context when they disagree.

Conversation Summary: %s
Last Two Messages:
%s
User Message: %s
Context: %s

Response:`, req.ConversationSummary, recent.String(), req.UserMessage, ctxJSON)

	return r.generate(ctx, "You are a helpful class assistant that answers students based on the teacher's material.", prompt)
}

func nonNil(entries []types.ContextEntry) []types.ContextEntry {
	if entries == nil {
		return []types.ContextEntry{}
	}
	return entries
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// Encoding returns the shared cl100k_base encoder.
func Encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

func CountTokens(text string) (int, error) {
	e, err := Encoding()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, nil, nil)), nil
}
