package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tutor/app/agent"
	"tutor/loader/internal"
	"tutor/model"
	"tutor/store"
	"tutor/types"
)

type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

type MetadataExtractor interface {
	Extract(ctx context.Context, text string) (types.Metadata, error)
}

type Splitter interface {
	Split(text string) []string
}

// ContentAppender is the part of the assistant store the pipeline writes to.
type ContentAppender interface {
	AppendContent(ctx context.Context, assistantID string, content *types.Content) error
}

// Pipeline turns a source locator into a persisted, indexed Content.
type Pipeline struct {
	extractor  internal.TextExtractor
	summarizer Summarizer
	metadata   MetadataExtractor
	splitter   Splitter
	embedder   model.Embedder
	index      store.EmbeddingIndex
	store      ContentAppender
	logger     *slog.Logger

	// digests processed at once
	workers int
	now     func() time.Time
}

type PipelineDeps struct {
	Extractor  internal.TextExtractor
	Summarizer Summarizer
	Metadata   MetadataExtractor
	Splitter   Splitter
	Embedder   model.Embedder
	Index      store.EmbeddingIndex
	Store      ContentAppender
	Logger     *slog.Logger
	Workers    int
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Workers <= 0 {
		d.Workers = 4
	}
	return &Pipeline{
		extractor:  d.Extractor,
		summarizer: d.Summarizer,
		metadata:   d.Metadata,
		splitter:   d.Splitter,
		embedder:   d.Embedder,
		index:      d.Index,
		store:      d.Store,
		logger:     d.Logger.With("component", "pipeline"),
		workers:    d.Workers,
		now:        time.Now,
	}
}

// Digest runs the whole ingestion for one source. Nothing is stored unless every
// step up to the save succeeds. An indexing failure after the save returns the
// saved content together with a *types.IndexingError.
func (p *Pipeline) Digest(ctx context.Context, assistantID, locator string, label types.Label) (*types.Content, error) {
	start := time.Now()
	if err := types.CheckID(assistantID); err != nil {
		return nil, err
	}
	if !label.Valid() {
		return nil, fmt.Errorf("%w: label %q", types.ErrInvalidID, label)
	}
	log := p.logger.With("assistant", assistantID, "locator", locator, "label", label)

	kind, format, err := internal.DetectMediaKind(locator)
	if err != nil {
		return nil, err
	}

	text, err := p.extractor.Extract(ctx, locator, kind, format)
	if err != nil {
		return nil, err
	}

	content := &types.Content{
		ID:        uuid.NewString(),
		MediaKind: kind,
		Format:    format,
		Text:      text,
		Source:    locator,
		Label:     label,
		CreatedAt: p.now().UTC(),
	}

	if content.ShortSummary, content.LongSummary, err = p.summaries(ctx, text); err != nil {
		return nil, err
	}

	md, err := p.metadata.Extract(ctx, content.LongSummary)
	if err != nil {
		return nil, err
	}
	content.Title, content.Topics, content.Keywords = md.Title, md.Topics, md.Keywords

	chunks := p.splitter.Split(text)
	log.Info("content chunked", "chunks", len(chunks))

	if content.Digests, err = p.digests(ctx, chunks); err != nil {
		return nil, err
	}

	if err := p.store.AppendContent(ctx, assistantID, content); err != nil {
		return nil, err
	}
	log.Info("content saved", "content", content.ID, "digests", len(content.Digests))

	for _, d := range content.Digests {
		if err := p.indexDigest(ctx, assistantID, content.ID, label, d); err != nil {
			log.Error("digest not indexed", "content", content.ID, "digest", d.ID, "error", err)
			return content, &types.IndexingError{ContentID: content.ID, DigestID: d.ID, Err: err}
		}
	}

	log.Info("content digested", "content", content.ID, "took", time.Since(start))
	return content, nil
}

func (p *Pipeline) summaries(ctx context.Context, text string) (string, string, error) {
	short, err := p.summarizer.Summarize(ctx, text, agent.ShortSummaryTokens)
	if err != nil {
		return "", "", err
	}
	long, err := p.summarizer.Summarize(ctx, text, agent.LongSummaryTokens)
	if err != nil {
		return "", "", err
	}
	return short, long, nil
}

// digests builds one Digest per chunk. Results keep chunk order.
func (p *Pipeline) digests(ctx context.Context, chunks []string) ([]types.Digest, error) {
	out := make([]types.Digest, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			md, err := p.metadata.Extract(gctx, chunk)
			if err != nil {
				return err
			}
			short, long, err := p.summaries(gctx, chunk)
			if err != nil {
				return err
			}
			out[i] = types.Digest{
				ID:           uuid.NewString(),
				Text:         chunk,
				Title:        md.Title,
				Topics:       md.Topics,
				Keywords:     md.Keywords,
				ShortSummary: short,
				LongSummary:  long,
				Questions:    md.Questions,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FacetTexts returns the text embedded for each facet of a digest.
func FacetTexts(d types.Digest) map[types.Facet]string {
	return map[types.Facet]string{
		types.FacetText:     d.Text,
		types.FacetTitle:    d.Title,
		types.FacetTopics:   strings.Join(d.Topics, ", "),
		types.FacetKeywords: strings.Join(d.Keywords, ", "),
	}
}

// indexDigest uploads the four facet vectors of d. All four must succeed.
func (p *Pipeline) indexDigest(ctx context.Context, assistantID, contentID string, label types.Label, d types.Digest) error {
	g, gctx := errgroup.WithContext(ctx)
	for facet, text := range FacetTexts(d) {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, text)
			if err != nil {
				return err
			}
			key := types.IndexKey{
				AssistantID: assistantID,
				ContentID:   contentID,
				DigestID:    d.ID,
				Facet:       facet,
				Label:       label,
			}
			if err := p.index.Upsert(gctx, key, vec); err != nil {
				return types.Remote("index", err)
			}
			return nil
		})
	}
	return g.Wait()
}
