package usecase

import (
	"math"
	"sort"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// SelectFusionMode picks how candidate sets are combined.
// hasVectorInput is true when a vector was supplied or the embedder can produce one from the query text.
func SelectFusionMode(hasQuery, hasVectorInput, hybrid bool, ratio float64) domain.FusionMode {
	if !hasQuery && !hasVectorInput {
		return domain.FusionModePlaceholder
	}
	if !hybrid {
		if !hasQuery {
			return domain.FusionModePlaceholder
		}
		return domain.FusionModeKeyword
	}
	if ratio == 0 {
		if !hasQuery {
			return domain.FusionModePlaceholder
		}
		return domain.FusionModeKeyword
	}
	if !hasVectorInput && ratio < 1 {
		return domain.FusionModeKeyword
	}
	if ratio == 1 || !hasQuery {
		return domain.FusionModeSemantic
	}
	return domain.FusionModeHybrid
}

type fusionEntry struct {
	result     domain.FusedResult
	lexicalPos int
	vectorPos  int
}

// Fuse combines the candidate sets of one query into a single list sorted by score.
// Sets not used by mode are ignored.
func Fuse(
	mode domain.FusionMode,
	lexical, vector *domain.CandidateSet,
	ratio float64,
	dist *domain.Distribution,
) []domain.FusedResult {
	entries := make(map[domain.DocumentRef]*fusionEntry, lexical.Len()+vector.Len())
	order := make([]*fusionEntry, 0, lexical.Len()+vector.Len())
	entry := func(ref domain.DocumentRef) *fusionEntry {
		if e, ok := entries[ref]; ok {
			return e
		}
		e := &fusionEntry{
			result:     domain.FusedResult{Ref: ref},
			lexicalPos: math.MaxInt,
			vectorPos:  math.MaxInt,
		}
		entries[ref] = e
		order = append(order, e)
		return e
	}

	if mode.UsesLexical() && lexical != nil {
		for i, c := range lexical.Candidates {
			e := entry(c.Ref)
			if e.lexicalPos != math.MaxInt {
				continue
			}
			e.lexicalPos = i
			switch mode {
			case domain.FusionModePlaceholder:
				e.result.Score = 1.0
			case domain.FusionModeKeyword:
				e.result.Score = c.RawScore
				e.result.ContributedBy |= domain.OriginLexical
			default:
				e.result.Score += (1 - ratio) * c.RawScore
				e.result.ContributedBy |= domain.OriginLexical
			}
		}
	}

	if mode.UsesVector() && vector != nil {
		weight := ratio
		if mode == domain.FusionModeSemantic {
			weight = 1
		}
		for i, c := range vector.Candidates {
			e := entry(c.Ref)
			if e.vectorPos != math.MaxInt {
				continue
			}
			e.vectorPos = i
			e.result.Score += weight * NormalizeScore(c.RawScore, dist)
			e.result.ContributedBy |= domain.OriginVector
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.lexicalPos != b.lexicalPos {
			return a.lexicalPos < b.lexicalPos
		}
		if a.vectorPos != b.vectorPos {
			return a.vectorPos < b.vectorPos
		}
		return a.result.Ref.Less(b.result.Ref)
	})

	out := make([]domain.FusedResult, 0, len(order))
	for _, e := range order {
		out = append(out, e.result)
	}
	return out
}
