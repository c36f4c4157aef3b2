package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor/loader/internal"
	"tutor/store"
	"tutor/types"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(context.Context, string, types.MediaKind, types.Format) (string, error) {
	return f.text, f.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, text string, maxTokens int) (string, error) {
	return fmt.Sprintf("sum%d(%s)", maxTokens, text), nil
}

type fakeMetadata struct {
	err error
}

func (f fakeMetadata) Extract(_ context.Context, text string) (types.Metadata, error) {
	if f.err != nil {
		return types.Metadata{}, f.err
	}
	return types.Metadata{
		Title:     "title " + text,
		Topics:    []string{"topic", text},
		Keywords:  []string{"kw"},
		Questions: []string{"what is " + text + "?"},
	}, nil
}

type wordSplitter struct{}

func (wordSplitter) Split(text string) []string { return strings.Fields(text) }

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, types.Remote("embedder", errors.New("connection refused"))
	}
	return []float32{float32(len(text)) + 1, 1}, nil
}

func newPipeline(t *testing.T, ext internal.TextExtractor, md MetadataExtractor, emb *fakeEmbedder) (*Pipeline, *store.MemoryStore, *store.MemoryIndex, string) {
	t.Helper()
	s := store.NewMemoryStore()
	a := &types.Assistant{OwnerID: "teacher-1", Subject: "Biology", ClassName: "7B"}
	require.NoError(t, s.CreateAssistant(context.Background(), a))
	idx := store.NewMemoryIndex(0)
	p := NewPipeline(PipelineDeps{
		Extractor:  ext,
		Summarizer: fakeSummarizer{},
		Metadata:   md,
		Splitter:   wordSplitter{},
		Embedder:   emb,
		Index:      idx,
		Store:      s,
		Logger:     nopLogger(),
	})
	return p, s, idx, a.ID
}

func TestDigestBuildsOrderedDigestsAndIndexesFacets(t *testing.T) {
	emb := &fakeEmbedder{}
	p, s, idx, assistantID := newPipeline(t, fakeExtractor{text: "cells divide grow die"}, fakeMetadata{}, emb)

	content, err := p.Digest(context.Background(), assistantID, "/tmp/lesson.txt", types.LabelOwn)
	require.NoError(t, err)

	assert.Equal(t, types.MediaDocument, content.MediaKind)
	assert.Equal(t, types.FormatTXT, content.Format)
	assert.Equal(t, "sum100(cells divide grow die)", content.ShortSummary)
	assert.Equal(t, "sum500(cells divide grow die)", content.LongSummary)
	assert.Equal(t, "title sum500(cells divide grow die)", content.Title)

	require.Len(t, content.Digests, 4)
	ids := map[string]bool{}
	for i, want := range []string{"cells", "divide", "grow", "die"} {
		d := content.Digests[i]
		assert.Equal(t, want, d.Text)
		assert.Equal(t, "title "+want, d.Title)
		assert.Equal(t, "sum100("+want+")", d.ShortSummary)
		assert.Equal(t, []string{"what is " + want + "?"}, d.Questions)
		assert.False(t, ids[d.ID], "digest ids are unique")
		ids[d.ID] = true
	}

	stored, err := s.GetAssistant(context.Background(), assistantID)
	require.NoError(t, err)
	require.Len(t, stored.OwnContent, 1)
	assert.Empty(t, stored.SupportingContent)
	assert.Equal(t, content.Digests, stored.OwnContent[0].Digests)

	assert.Equal(t, 16, idx.Len())
	assert.Equal(t, 16, emb.calls)

	matches, err := idx.Query(context.Background(), types.IndexFilter{AssistantID: assistantID, Label: types.LabelOwn, Facet: types.FacetTitle}, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 4)
	for _, m := range matches {
		assert.Equal(t, content.ID, m.Key.ContentID)
	}
}

func TestDigestFailureBeforeSavePersistsNothing(t *testing.T) {
	tests := []struct {
		name    string
		ext     fakeExtractor
		md      fakeMetadata
		locator string
		wantErr error
	}{
		{"unsupported", fakeExtractor{text: "x"}, fakeMetadata{}, "/tmp/slides.pptx", types.ErrUnsupportedMediaKind},
		{"extraction", fakeExtractor{err: fmt.Errorf("%w: broken", types.ErrExtraction)}, fakeMetadata{}, "/tmp/a.txt", types.ErrExtraction},
		{"metadata", fakeExtractor{text: "a b"}, fakeMetadata{err: types.ErrMetadataParse}, "/tmp/a.txt", types.ErrMetadataParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeEmbedder{}
			p, s, idx, assistantID := newPipeline(t, tt.ext, tt.md, emb)

			content, err := p.Digest(context.Background(), assistantID, tt.locator, types.LabelSupported)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, content)

			stored, err := s.GetAssistant(context.Background(), assistantID)
			require.NoError(t, err)
			assert.Empty(t, stored.SupportingContent)
			assert.Zero(t, idx.Len())
			assert.Zero(t, emb.calls)
		})
	}
}

func TestDigestIndexFailureKeepsSavedContent(t *testing.T) {
	emb := &fakeEmbedder{fail: true}
	p, s, _, assistantID := newPipeline(t, fakeExtractor{text: "one two"}, fakeMetadata{}, emb)

	content, err := p.Digest(context.Background(), assistantID, "/tmp/a.txt", types.LabelSupported)
	require.Error(t, err)

	var idxErr *types.IndexingError
	require.ErrorAs(t, err, &idxErr)
	assert.ErrorIs(t, err, types.ErrRemoteService)
	require.NotNil(t, content)
	assert.Equal(t, content.ID, idxErr.ContentID)
	assert.Equal(t, content.Digests[0].ID, idxErr.DigestID)

	stored, err := s.GetAssistant(context.Background(), assistantID)
	require.NoError(t, err)
	require.Len(t, stored.SupportingContent, 1)
	assert.Equal(t, content.ID, stored.SupportingContent[0].ID)
}

func TestDigestRejectsBadScope(t *testing.T) {
	p, _, _, assistantID := newPipeline(t, fakeExtractor{text: "x"}, fakeMetadata{}, &fakeEmbedder{})

	_, err := p.Digest(context.Background(), assistantID, "/tmp/a.txt", types.Label("mine"))
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = p.Digest(context.Background(), "a__b", "/tmp/a.txt", types.LabelOwn)
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestFacetTextsJoinLists(t *testing.T) {
	got := FacetTexts(types.Digest{Text: "body", Title: "T", Topics: []string{"a", "b"}, Keywords: []string{"k"}})
	assert.Equal(t, map[types.Facet]string{
		types.FacetText:     "body",
		types.FacetTitle:    "T",
		types.FacetTopics:   "a, b",
		types.FacetKeywords: "k",
	}, got)
}
