package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tutor/app/agent"
	"tutor/model"
	"tutor/store"
	"tutor/types"
)

const (
	// TopK is the number of matches taken from every facet/scope query.
	TopK = 10
	// RecentMessages is how many prior messages generation sees.
	RecentMessages = 2
)

type TurnExtractor interface {
	ExtractTurn(ctx context.Context, text string) (types.TurnMetadata, error)
}

type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) (string, error)
}

type SummaryUpdater interface {
	Update(ctx context.Context, previous, userMessage, reply string) (string, error)
}

// Reply is the outcome of one turn. Conversation is the persisted state after it.
type Reply struct {
	Message      string
	Own          []types.RankedMatch
	Supported    []types.RankedMatch
	Conversation *types.Conversation
}

type Engine struct {
	metadata  TurnExtractor
	embedder  model.Embedder
	index     store.EmbeddingIndex
	generator Generator
	memory    SummaryUpdater
	store     store.ConversationStorer
	logger    *slog.Logger
	now       func() time.Time
}

type EngineDeps struct {
	Metadata  TurnExtractor
	Embedder  model.Embedder
	Index     store.EmbeddingIndex
	Generator Generator
	Memory    SummaryUpdater
	Store     store.ConversationStorer
	Logger    *slog.Logger
}

func NewEngine(d EngineDeps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		metadata:  d.Metadata,
		embedder:  d.Embedder,
		index:     d.Index,
		generator: d.Generator,
		memory:    d.Memory,
		store:     d.Store,
		logger:    d.Logger.With("component", "engine"),
		now:       time.Now,
	}
}

// Respond runs one chat turn against the assistant's content and persists the
// conversation. On error conv is left unchanged and nothing is saved.
func (e *Engine) Respond(ctx context.Context, userMessage string, a *types.Assistant, conv *types.Conversation) (*Reply, error) {
	start := time.Now()
	log := e.logger.With("assistant", a.ID, "conversation", conv.ID)

	md, err := e.metadata.ExtractTurn(ctx, userMessage)
	switch {
	case errors.Is(err, types.ErrMetadataParse):
		log.Warn("turn metadata unparseable, greeting", "error", err)
		return e.greet(ctx, userMessage, md, conv)
	case err != nil:
		return nil, err
	case !md.Complete():
		log.Info("turn metadata incomplete, greeting")
		return e.greet(ctx, userMessage, md, conv)
	}

	vectors, err := e.embedTurn(ctx, md)
	if err != nil {
		return nil, err
	}

	lists, err := e.query(ctx, a.ID, vectors)
	if err != nil {
		return nil, err
	}

	own := Rank(lists[types.LabelOwn])
	supported := Rank(lists[types.LabelSupported])

	reply, err := e.generator.Generate(ctx, types.GenerationRequest{
		UserMessage:         userMessage,
		ConversationSummary: conv.Summary,
		RecentMessages:      conv.Recent(RecentMessages),
		OwnContext:          BuildContext(a, types.LabelOwn, own),
		SupportedContext:    BuildContext(a, types.LabelSupported, supported),
	})
	if err != nil {
		return nil, err
	}

	summary, err := e.memory.Update(ctx, conv.Summary, userMessage, reply)
	if err != nil {
		return nil, err
	}

	next, err := e.commit(ctx, conv, userTurn(userMessage, md), types.AssistantTurn{
		Message:    reply,
		References: types.References{Own: own, Supported: supported},
	}, summary)
	if err != nil {
		return nil, err
	}

	log.Info("turn answered", "conversation", next.ID, "own", len(own), "supported", len(supported), "took", time.Since(start))
	return &Reply{Message: reply, Own: own, Supported: supported, Conversation: next}, nil
}

// greet answers a turn that cannot be used for retrieval. The rolling summary
// is kept as is.
func (e *Engine) greet(ctx context.Context, userMessage string, md types.TurnMetadata, conv *types.Conversation) (*Reply, error) {
	empty := types.References{Own: []types.RankedMatch{}, Supported: []types.RankedMatch{}}
	next, err := e.commit(ctx, conv, userTurn(userMessage, md), types.AssistantTurn{
		Message:    agent.Greeting,
		References: empty,
	}, conv.Summary)
	if err != nil {
		return nil, err
	}
	return &Reply{Message: agent.Greeting, Own: empty.Own, Supported: empty.Supported, Conversation: next}, nil
}

// commit appends both turns to a copy of conv and saves it once.
func (e *Engine) commit(ctx context.Context, conv *types.Conversation, user types.UserTurn, assistant types.AssistantTurn, summary string) (*types.Conversation, error) {
	next := *conv
	next.Messages = append([]types.Message(nil), conv.Messages...)

	now := e.now().UTC()
	if err := next.Append(types.NewUserMessage(user, now), types.NewAssistantMessage(assistant, now)); err != nil {
		return nil, err
	}
	next.Summary = summary

	if err := e.store.SaveConversation(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func userTurn(message string, md types.TurnMetadata) types.UserTurn {
	return types.UserTurn{
		Message:         message,
		RefinedQuestion: md.RefinedQuestion,
		Title:           md.Title,
		Topics:          md.Topics,
		Keywords:        md.Keywords,
	}
}

// TurnFacetTexts returns the text embedded for each facet of a turn.
func TurnFacetTexts(md types.TurnMetadata) map[types.Facet]string {
	return map[types.Facet]string{
		types.FacetText:     md.RefinedQuestion,
		types.FacetTitle:    md.Title,
		types.FacetTopics:   strings.Join(md.Topics, ", "),
		types.FacetKeywords: strings.Join(md.Keywords, ", "),
	}
}

func (e *Engine) embedTurn(ctx context.Context, md types.TurnMetadata) (map[types.Facet][]float32, error) {
	texts := TurnFacetTexts(md)
	vecs := make([][]float32, len(types.Facets))

	g, gctx := errgroup.WithContext(ctx)
	for i, facet := range types.Facets {
		g.Go(func() error {
			v, err := e.embedder.Embed(gctx, texts[facet])
			if err != nil {
				return err
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[types.Facet][]float32, len(types.Facets))
	for i, facet := range types.Facets {
		out[facet] = vecs[i]
	}
	return out, nil
}

// query issues one query per scope and facet. Each goroutine writes its own
// slot and the grid is read only after Wait.
func (e *Engine) query(ctx context.Context, assistantID string, vectors map[types.Facet][]float32) (map[types.Label]map[types.Facet][]types.IndexMatch, error) {
	grid := make([][][]types.IndexMatch, len(types.Labels))
	for i := range grid {
		grid[i] = make([][]types.IndexMatch, len(types.Facets))
	}

	g, gctx := errgroup.WithContext(ctx)
	for li, label := range types.Labels {
		for fi, facet := range types.Facets {
			g.Go(func() error {
				filter := types.IndexFilter{AssistantID: assistantID, Label: label, Facet: facet}
				matches, err := e.index.Query(gctx, filter, vectors[facet], TopK)
				if err != nil {
					return types.Remote("index", err)
				}
				grid[li][fi] = matches
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[types.Label]map[types.Facet][]types.IndexMatch, len(types.Labels))
	for li, label := range types.Labels {
		out[label] = make(map[types.Facet][]types.IndexMatch, len(types.Facets))
		for fi, facet := range types.Facets {
			out[label][facet] = grid[li][fi]
		}
	}
	return out, nil
}
