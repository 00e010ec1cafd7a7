package usecase

import "github.com/hyperdrive-eng/meilisearch/internal/core/domain"

// Dedupe keeps the first result of every distinct key in one forward pass over an already
// sorted list. Results without a key are always kept. It returns the kept results and the
// number of dropped duplicates.
func Dedupe(
	sorted []domain.FusedResult,
	keyOf func(domain.DocumentRef) (domain.DistinctKey, bool),
) ([]domain.FusedResult, int) {
	if keyOf == nil {
		return sorted, 0
	}

	seen := make(map[domain.DistinctKey]struct{}, len(sorted))
	kept := make([]domain.FusedResult, 0, len(sorted))
	dropped := 0
	for _, result := range sorted {
		key, ok := keyOf(result.Ref)
		if !ok {
			kept = append(kept, result)
			continue
		}
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, result)
	}
	return kept, dropped
}

func keyLookup(keys map[string]domain.DistinctKey) func(domain.DocumentRef) (domain.DistinctKey, bool) {
	if keys == nil {
		return nil
	}
	return func(ref domain.DocumentRef) (domain.DistinctKey, bool) {
		key, ok := keys[ref.ID]
		return key, ok
	}
}
