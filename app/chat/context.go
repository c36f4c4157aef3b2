package chat

import (
	"tutor/types"
)

type tierFunc func(rank int, c *types.Content, d *types.Digest) types.ContextEntry

type tier struct {
	upTo  int // exclusive rank bound
	build tierFunc
}

var ownTiers = []tier{
	{upTo: 2, build: func(rank int, c *types.Content, d *types.Digest) types.ContextEntry {
		return types.ContextEntry{Rank: rank, DigestText: d.Text, ParentLongSummary: c.LongSummary}
	}},
	{upTo: 5, build: func(rank int, c *types.Content, d *types.Digest) types.ContextEntry {
		return types.ContextEntry{Rank: rank, DigestLongSummary: d.LongSummary, ParentShortSummary: c.ShortSummary}
	}},
}

var supportedTiers = []tier{
	{upTo: 2, build: func(rank int, c *types.Content, d *types.Digest) types.ContextEntry {
		return types.ContextEntry{Rank: rank, DigestLongSummary: d.LongSummary, ParentShortSummary: c.ShortSummary}
	}},
	{upTo: 4, build: func(rank int, c *types.Content, d *types.Digest) types.ContextEntry {
		return types.ContextEntry{Rank: rank, DigestShortSummary: d.ShortSummary, ParentTitle: c.Title, ParentTopics: c.Topics}
	}},
}

func tiersFor(label types.Label) []tier {
	if label == types.LabelOwn {
		return ownTiers
	}
	return supportedTiers
}

// BuildContext turns ranked matches into generation context. Tiers are strictly
// positional; a match that no longer resolves contributes nothing and the
// following ranks keep their positions.
func BuildContext(a *types.Assistant, label types.Label, ranked []types.RankedMatch) []types.ContextEntry {
	tiers := tiersFor(label)
	limit := tiers[len(tiers)-1].upTo

	entries := []types.ContextEntry{}
	for rank, m := range ranked {
		if rank >= limit {
			break
		}
		c, d, ok := a.Lookup(label, m.ContentID, m.DigestID)
		if !ok {
			continue
		}
		for _, t := range tiers {
			if rank < t.upTo {
				entries = append(entries, t.build(rank, c, d))
				break
			}
		}
	}
	return entries
}
