package model

import (
	"context"
	"log/slog"
	"time"

	"tutor/types"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLM runs one completion with a system prompt.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// LoggingEmbedder reports embedding latency and failures.
type LoggingEmbedder struct {
	next   Embedder
	logger *slog.Logger
}

func NewLoggingEmbedder(next Embedder, logger *slog.Logger) *LoggingEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEmbedder{next: next, logger: logger.With("component", "embedder")}
}

func (e *LoggingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		e.logger.Error("embedding failed", "error", err, "chars", len(text))
		return nil, types.Remote("embedder", err)
	}
	e.logger.Debug("embedded text", "chars", len(text), "dim", len(vec), "took", time.Since(start))
	return vec, nil
}
