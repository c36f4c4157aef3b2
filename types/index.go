package types

import (
	"fmt"
	"strings"
)

// KeyDelimiter separates the fields of an encoded IndexKey. No id may contain it.
const KeyDelimiter = "__"

// IndexKey identifies one facet embedding of one digest.
// Encoded field order: assistant, content, digest, facet, label.
type IndexKey struct {
	AssistantID string
	ContentID   string
	DigestID    string
	Facet       Facet
	Label       Label
}

// CheckID rejects ids that are empty or would break key parsing.
func CheckID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	if strings.Contains(id, KeyDelimiter) {
		return fmt.Errorf("%w: %q contains reserved delimiter %q", ErrInvalidID, id, KeyDelimiter)
	}
	return nil
}

func (k IndexKey) Validate() error {
	for _, id := range []string{k.AssistantID, k.ContentID, k.DigestID} {
		if err := CheckID(id); err != nil {
			return err
		}
	}
	if !k.Label.Valid() {
		return fmt.Errorf("%w: label %q", ErrInvalidID, k.Label)
	}
	switch k.Facet {
	case FacetText, FacetTitle, FacetTopics, FacetKeywords:
	default:
		return fmt.Errorf("%w: facet %q", ErrInvalidID, k.Facet)
	}
	return nil
}

func (k IndexKey) Encode() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	return strings.Join([]string{k.AssistantID, k.ContentID, k.DigestID, string(k.Facet), string(k.Label)}, KeyDelimiter), nil
}

func (k IndexKey) Pair() MatchPair {
	return MatchPair{ContentID: k.ContentID, DigestID: k.DigestID}
}

func ParseIndexKey(s string) (IndexKey, error) {
	parts := strings.Split(s, KeyDelimiter)
	if len(parts) != 5 {
		return IndexKey{}, fmt.Errorf("%w: key %q has %d fields", ErrInvalidID, s, len(parts))
	}
	k := IndexKey{
		AssistantID: parts[0],
		ContentID:   parts[1],
		DigestID:    parts[2],
		Facet:       Facet(parts[3]),
		Label:       Label(parts[4]),
	}
	if err := k.Validate(); err != nil {
		return IndexKey{}, err
	}
	return k, nil
}

// IndexFilter scopes a vector query. AssistantID and Label are mandatory.
type IndexFilter struct {
	AssistantID string
	Label       Label
	Facet       Facet
}

func (f IndexFilter) Validate() error {
	if f.AssistantID == "" {
		return fmt.Errorf("%w: index filter without assistant id", ErrInvalidID)
	}
	if !f.Label.Valid() {
		return fmt.Errorf("%w: index filter without ownership label", ErrInvalidID)
	}
	return nil
}

type IndexMatch struct {
	Key   IndexKey
	Score float64
}
