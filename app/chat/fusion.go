package chat

import (
	"sort"

	"tutor/types"
)

// FacetWeights are the fusion weights per facet.
var FacetWeights = map[types.Facet]float64{
	types.FacetTitle:    3,
	types.FacetText:     2,
	types.FacetTopics:   1,
	types.FacetKeywords: 1,
}

// Rank fuses per-facet match lists of one scope into a single list ordered by
// weighted score. Lists are reduced in types.Facets order, so ties resolve by the
// first facet and position a pair was seen in, never by map or completion order.
func Rank(lists map[types.Facet][]types.IndexMatch) []types.RankedMatch {
	var ranked []types.RankedMatch
	pos := make(map[types.MatchPair]int)

	for _, facet := range types.Facets {
		w := FacetWeights[facet]
		for _, m := range lists[facet] {
			pair := m.Key.Pair()
			i, ok := pos[pair]
			if !ok {
				i = len(ranked)
				pos[pair] = i
				ranked = append(ranked, types.RankedMatch{MatchPair: pair})
			}
			ranked[i].WeightedScore += w * m.Score
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].WeightedScore > ranked[j].WeightedScore
	})
	if ranked == nil {
		return []types.RankedMatch{}
	}
	return ranked
}
