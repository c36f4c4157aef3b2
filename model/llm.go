package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tutor/types"
)

type GenerateRequest struct {
	Model  string   `json:"model"`
	System string   `json:"system,omitempty"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaLLM calls /api/generate. The body may be a single object or NDJSON chunks.
type OllamaLLM struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

func NewOllamaLLM(url, model string, timeout time.Duration) *OllamaLLM {
	return &OllamaLLM{url: url, model: model, timeout: timeout, client: http.DefaultClient}
}

func (l *OllamaLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	return l.generate(ctx, GenerateRequest{Model: l.model, System: system, Prompt: prompt})
}

func (l *OllamaLLM) generate(ctx context.Context, req GenerateRequest) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	body, err := postJSON(ctx, l.client, l.url, reqBody)
	if err != nil {
		return "", types.Remote("llm", err)
	}
	return decodeGenerate(body)
}

func decodeGenerate(body []byte) (string, error) {
	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return genResp.Response, nil
	}

	// streamed reply: concatenate chunks until done
	var b strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", types.Remote("llm", fmt.Errorf("decode response: %w", err))
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return b.String(), nil
}

// LLaVA describes an image through an Ollama vision model.
type LLaVA struct {
	llm *OllamaLLM
}

func NewLLaVA(url, model string, timeout time.Duration) *LLaVA {
	return &LLaVA{llm: NewOllamaLLM(url, model, timeout)}
}

const describePrompt = `Describe the provided image for a student.
Transcribe every piece of visible text exactly, then explain diagrams, charts and
figures in plain prose. Do not invent content that is not visible.`

// Describe takes a base64 encoded image and returns a text rendering of it.
func (v *LLaVA) Describe(ctx context.Context, img string) (string, error) {
	return v.llm.generate(ctx, GenerateRequest{
		Model:  v.llm.model,
		Prompt: describePrompt,
		Images: []string{img},
	})
}
