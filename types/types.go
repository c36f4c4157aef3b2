package types

import (
	"time"
)

type MediaKind string

const (
	MediaDocument      MediaKind = "document"
	MediaImage         MediaKind = "image"
	MediaAudio         MediaKind = "audio"
	MediaVideo         MediaKind = "video"
	MediaWebTranscript MediaKind = "web-transcript"
)

// Format is the concrete source format behind a MediaKind (pdf, docx, youtube...).
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatTXT     Format = "txt"
	FormatImage   Format = "image"
	FormatAudio   Format = "audio"
	FormatVideo   Format = "video"
	FormatYouTube Format = "youtube"
	FormatVimeo   Format = "vimeo"
)

type Label string

const (
	LabelOwn       Label = "own"
	LabelSupported Label = "supported"
)

// Labels lists every ownership scope in query order.
var Labels = []Label{LabelOwn, LabelSupported}

func (l Label) Valid() bool {
	return l == LabelOwn || l == LabelSupported
}

type Facet string

const (
	FacetText     Facet = "text"
	FacetTitle    Facet = "title"
	FacetTopics   Facet = "topics"
	FacetKeywords Facet = "keywords"
)

// Facets is the canonical facet order. Fusion reduces lists in this order.
var Facets = []Facet{FacetTitle, FacetText, FacetTopics, FacetKeywords}

// Content is one ingested source with its ordered digests.
type Content struct {
	ID           string    `json:"id"`
	MediaKind    MediaKind `json:"media_kind"`
	Format       Format    `json:"format"`
	Text         string    `json:"content"`
	Source       string    `json:"file_url"`
	Title        string    `json:"title"`
	Topics       []string  `json:"topics"`
	Keywords     []string  `json:"keywords"`
	ShortSummary string    `json:"short_summary"`
	LongSummary  string    `json:"long_summary"`
	Label        Label     `json:"label"`
	Digests      []Digest  `json:"digests"`
	CreatedAt    time.Time `json:"created_at"`
}

// Digest returns the digest with the given id.
func (c *Content) Digest(id string) (*Digest, bool) {
	for i := range c.Digests {
		if c.Digests[i].ID == id {
			return &c.Digests[i], true
		}
	}
	return nil, false
}

// Digest is a token-bounded slice of a Content.
type Digest struct {
	ID           string   `json:"id"`
	Text         string   `json:"content"`
	Title        string   `json:"title"`
	Topics       []string `json:"topics"`
	Keywords     []string `json:"keywords"`
	ShortSummary string   `json:"short_summary"`
	LongSummary  string   `json:"long_summary"`
	Questions    []string `json:"questions"`
}

type Assistant struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Subject           string    `json:"subject"`
	ClassName         string    `json:"class_name"`
	About             string    `json:"about,omitempty"`
	ProfilePicture    string    `json:"profile_picture,omitempty"`
	OwnContent        []Content `json:"own_content"`
	SupportingContent []Content `json:"supporting_content"`
	AllowedUsers      []string  `json:"allowed_users"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Collection returns the content collection for the label.
func (a *Assistant) Collection(label Label) []Content {
	if label == LabelOwn {
		return a.OwnContent
	}
	return a.SupportingContent
}

// Lookup resolves a (content, digest) pair inside the labelled collection.
func (a *Assistant) Lookup(label Label, contentID, digestID string) (*Content, *Digest, bool) {
	contents := a.Collection(label)
	for i := range contents {
		if contents[i].ID != contentID {
			continue
		}
		d, ok := contents[i].Digest(digestID)
		if !ok {
			return nil, nil, false
		}
		return &contents[i], d, true
	}
	return nil, nil, false
}

func (a *Assistant) IsAllowed(userID string) bool {
	for _, u := range a.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Metadata is the structured description of a text blob.
type Metadata struct {
	Title     string   `json:"Title"`
	Topics    []string `json:"Topics"`
	Keywords  []string `json:"Keywords"`
	Questions []string `json:"Questions"`
}

// TurnMetadata is the structured description of one chat message.
type TurnMetadata struct {
	RefinedQuestion string   `json:"RefinedQuestion"`
	Title           string   `json:"Title"`
	Topics          []string `json:"Topics"`
	Keywords        []string `json:"Keywords"`
}

// Complete reports whether every field needed for retrieval is present.
func (m TurnMetadata) Complete() bool {
	return m.RefinedQuestion != "" && m.Title != "" && len(m.Topics) > 0 && len(m.Keywords) > 0
}

type MatchPair struct {
	ContentID string `json:"content_id"`
	DigestID  string `json:"digest_id"`
}

// RankedMatch is a fused retrieval result.
type RankedMatch struct {
	MatchPair
	WeightedScore float64 `json:"weighted_score"`
}

// ContextEntry is the text handed to generation for one ranked match. Which fields
// are set depends on the rank tier.
type ContextEntry struct {
	Rank               int      `json:"rank"`
	DigestText         string   `json:"digest_text,omitempty"`
	DigestLongSummary  string   `json:"digest_long_summary,omitempty"`
	DigestShortSummary string   `json:"digest_short_summary,omitempty"`
	ParentLongSummary  string   `json:"parent_long_summary,omitempty"`
	ParentShortSummary string   `json:"parent_short_summary,omitempty"`
	ParentTitle        string   `json:"parent_title,omitempty"`
	ParentTopics       []string `json:"parent_topics,omitempty"`
}

// GenerationRequest is everything the reply generator sees for one turn.
type GenerationRequest struct {
	UserMessage         string
	ConversationSummary string
	RecentMessages      []Message
	OwnContext          []ContextEntry
	SupportedContext    []ContextEntry
}
