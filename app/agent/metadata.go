package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tutor/model"
	"tutor/types"
)

const metadataSchema = `{"Title": "", "Topics": [""], "Keywords": [""], "Questions": [""]}`

const turnSchema = `{"RefinedQuestion": "", "Title": "", "Topics": [""], "Keywords": [""]}`

// MetadataExtractor asks the LLM for structured JSON and repairs bad output.
type MetadataExtractor struct {
	agent
	attempts int
	backoff  time.Duration
}

func NewMetadataExtractor(llm model.LLM, attempts int, logger *slog.Logger) *MetadataExtractor {
	if attempts < 1 {
		attempts = 1
	}
	return &MetadataExtractor{
		agent:    newAgent(llm, logger, "metadata"),
		attempts: attempts,
		backoff:  300 * time.Millisecond,
	}
}

func (m *MetadataExtractor) Extract(ctx context.Context, text string) (types.Metadata, error) {
	prompt := fmt.Sprintf(`Extract the following information from the given text:
1. Title (single string)
2. Topics (list of strings)
3. Keywords (list of strings)
4. Questions (that this content can answer) (list of strings)

Provide the output as a single JSON object with exactly this structure:
%s

Text: %s`, metadataSchema, text)

	var md types.Metadata
	if err := m.retry(ctx, prompt, metadataSchema, &md); err != nil {
		return types.Metadata{}, err
	}
	return md, nil
}

func (m *MetadataExtractor) ExtractTurn(ctx context.Context, text string) (types.TurnMetadata, error) {
	prompt := fmt.Sprintf(`Extract the following information from the given chat message:
1. RefinedQuestion (single string, the message rewritten as a clear standalone question)
2. Title (single string)
3. Topics (list of strings)
4. Keywords (list of strings)

Provide the output as a single JSON object with exactly this structure:
%s

Text: %s`, turnSchema, text)

	var md types.TurnMetadata
	if err := m.retry(ctx, prompt, turnSchema, &md); err != nil {
		return types.TurnMetadata{}, err
	}
	return md, nil
}

// retry decodes the reply into out. Remote failures abort at once; parse
// failures are retried with a repair prompt.
func (m *MetadataExtractor) retry(ctx context.Context, prompt, schema string, out any) error {
	const system = "You are a helpful assistant that extracts metadata from text."
	var lastErr error
	var raw string

	for attempt := 1; attempt <= m.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.Remote(m.name, err)
		}

		p := prompt
		if attempt > 1 {
			m.logger.Warn("repairing metadata output", "attempt", attempt, "error", lastErr)
			p = model.RepairPrompt(raw, schema)
		}

		var err error
		raw, err = m.generate(ctx, system, p)
		if err != nil {
			return err
		}

		lastErr = decodeJSON(raw, out)
		if lastErr == nil {
			return nil
		}

		if attempt < m.attempts && m.backoff > 0 {
			select {
			case <-ctx.Done():
				return types.Remote(m.name, ctx.Err())
			case <-time.After(time.Duration(attempt) * m.backoff):
			}
		}
	}

	return fmt.Errorf("%w: after %d attempts: %v", types.ErrMetadataParse, m.attempts, lastErr)
}

func decodeJSON(raw string, out any) error {
	js, err := model.ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(js), out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("field %s has wrong type: %w", typeErr.Field, err)
		}
		return err
	}
	return nil
}
