package internal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"tutor/types"
)

// TextExtractor returns the plain text behind a locator.
type TextExtractor interface {
	Extract(ctx context.Context, locator string, kind types.MediaKind, format types.Format) (string, error)
}

type ExtractorConfig struct {
	ConverterURL     string
	TranscriptionURL string
	Timeout          time.Duration
	CropTop          float64
	CropBottom       float64
}

// Extractor reads local files or http(s) URLs. Documents are handled in
// process or through the converter, images by the describer, and audio,
// video and web transcripts by the transcription service.
type Extractor struct {
	cfg       ExtractorConfig
	client    *http.Client
	describer ImageDescriber
	logger    *slog.Logger
}

func NewExtractor(cfg ExtractorConfig, describer ImageDescriber, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:       cfg,
		client:    &http.Client{},
		describer: describer,
		logger:    logger.With("component", "extractor"),
	}
}

func (e *Extractor) Extract(ctx context.Context, locator string, kind types.MediaKind, format types.Format) (string, error) {
	start := time.Now()
	text, err := e.extract(ctx, locator, kind, format)
	if err != nil {
		e.logger.Error("extraction failed", "locator", locator, "format", format, "error", err)
		return "", fmt.Errorf("%w: %s: %v", types.ErrExtraction, locator, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s: no text extracted", types.ErrExtraction, locator)
	}
	e.logger.Info("extracted text", "locator", locator, "format", format, "chars", len(text), "took", time.Since(start))
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, locator string, kind types.MediaKind, format types.Format) (string, error) {
	switch kind {
	case types.MediaAudio, types.MediaVideo, types.MediaWebTranscript:
		return e.transcribe(ctx, locator, kind, format)
	}

	switch format {
	case types.FormatTXT:
		data, err := e.fetch(ctx, locator)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("text file is not valid UTF-8")
		}
		return string(data), nil
	case types.FormatDOCX:
		data, err := e.fetch(ctx, locator)
		if err != nil {
			return "", err
		}
		return ExtractDocx(data)
	case types.FormatPDF:
		return e.extractPDF(ctx, locator)
	case types.FormatImage:
		if e.describer == nil {
			return "", fmt.Errorf("no image describer configured")
		}
		data, err := e.fetch(ctx, locator)
		if err != nil {
			return "", err
		}
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.describer.Describe(ctx, base64.StdEncoding.EncodeToString(data))
	}
	return "", fmt.Errorf("unsupported format %q for %s", format, kind)
}

// extractPDF crops headers and footers, then converts the PDF to markdown.
func (e *Extractor) extractPDF(ctx context.Context, locator string) (string, error) {
	data, err := e.fetch(ctx, locator)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "tutor-pdf-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return "", err
	}

	input := src
	if e.cfg.CropTop > 0 || e.cfg.CropBottom > 0 {
		cropped := filepath.Join(dir, "cropped.pdf")
		if err := RemoveHeaderFooterCrop(src, cropped, e.cfg.CropTop, e.cfg.CropBottom); err != nil {
			e.logger.Warn("pdf crop failed, converting uncropped file", "locator", locator, "error", err)
		} else {
			input = cropped
		}
	}

	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	md, err := convertPDFToMD(cctx, e.client, e.cfg.ConverterURL, input)
	if err != nil {
		return "", err
	}
	return renderMarkdown(ctx, md, e.describer, e.logger), nil
}

type transcriptionRequest struct {
	URL       string          `json:"url"`
	MediaKind types.MediaKind `json:"media_kind"`
	Format    types.Format    `json:"format"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (e *Extractor) transcribe(ctx context.Context, locator string, kind types.MediaKind, format types.Format) (string, error) {
	if e.cfg.TranscriptionURL == "" {
		return "", fmt.Errorf("no transcription service configured for %s", kind)
	}
	body, err := json.Marshal(transcriptionRequest{URL: locator, MediaKind: kind, Format: format})
	if err != nil {
		return "", err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TranscriptionURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, string(respBody))
	}
	var tr transcriptionResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return tr.Text, nil
}

// fetch reads http(s) URLs over the network and anything else from disk.
func (e *Extractor) fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	path := locator
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	return os.ReadFile(path)
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}
