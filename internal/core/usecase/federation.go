package usecase

import (
	"sort"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// FederationSource is the deduped result list of one query taking part in a federated search.
type FederationSource struct {
	ID       string
	Position int
	// Scope names the distinct scope of Keys. Sources only compare keys when they share a scope;
	// an empty scope falls back to ID.
	Scope   string
	Weight  float64
	Results []domain.FusedResult
	Keys    map[string]domain.DistinctKey
	// CountSemantic reports whether this source's mode exposes a semantic hit count.
	CountSemantic bool
}

type FederatedResult struct {
	domain.FusedResult
	Position      int
	WeightedScore float64
}

type FederatedPage struct {
	Results           []FederatedResult
	SemanticHitCount  *int
	TotalCandidates   int
	DroppedDuplicates int
}

type federatedEntry struct {
	result  FederatedResult
	rank    int
	scope   string
	key     domain.DistinctKey
	withKey bool
}

// Federate merges per-source results by weighted score and pages the merged list.
// Ties resolve by source position, then by the order inside the source.
func Federate(sources []FederationSource, offset, limit int) FederatedPage {
	total := 0
	countSemantic := false
	for _, source := range sources {
		total += len(source.Results)
		countSemantic = countSemantic || source.CountSemantic
	}

	merged := make([]federatedEntry, 0, total)
	for _, source := range sources {
		scope := source.Scope
		if scope == "" {
			scope = source.ID
		}
		for rank, result := range source.Results {
			key, ok := source.Keys[result.Ref.ID]
			merged = append(merged, federatedEntry{
				result: FederatedResult{
					FusedResult:   result,
					Position:      source.Position,
					WeightedScore: result.Score * source.Weight,
				},
				rank:    rank,
				scope:   scope,
				key:     key,
				withKey: ok,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.result.WeightedScore != b.result.WeightedScore {
			return a.result.WeightedScore > b.result.WeightedScore
		}
		if a.result.Position != b.result.Position {
			return a.result.Position < b.result.Position
		}
		return a.rank < b.rank
	})

	type scopedKey struct {
		scope string
		key   domain.DistinctKey
	}
	seen := make(map[scopedKey]struct{}, len(merged))
	kept := make([]FederatedResult, 0, len(merged))
	dropped := 0
	for _, entry := range merged {
		if entry.withKey {
			sk := scopedKey{scope: entry.scope, key: entry.key}
			if _, dup := seen[sk]; dup {
				dropped++
				continue
			}
			seen[sk] = struct{}{}
		}
		kept = append(kept, entry.result)
	}

	page := pageWindow(kept, offset, limit)
	out := FederatedPage{
		Results:           page,
		TotalCandidates:   len(kept),
		DroppedDuplicates: dropped,
	}
	if countSemantic {
		count := 0
		for _, result := range page {
			if result.ContributedBy.Has(domain.OriginVector) {
				count++
			}
		}
		out.SemanticHitCount = &count
	}
	return out
}
