package usecase

import "github.com/hyperdrive-eng/meilisearch/internal/core/domain"

// Paginate slices deduped to the requested page. The semantic hit count covers the returned
// page only and is nil unless countSemantic is set.
func Paginate(deduped []domain.FusedResult, offset, limit int, countSemantic bool) domain.ResultPage {
	page := domain.ResultPage{
		Results:         pageWindow(deduped, offset, limit),
		TotalCandidates: len(deduped),
	}
	if countSemantic {
		count := semanticHits(page.Results)
		page.SemanticHitCount = &count
	}
	return page
}

func semanticHits(results []domain.FusedResult) int {
	count := 0
	for _, result := range results {
		if result.ContributedBy.Has(domain.OriginVector) {
			count++
		}
	}
	return count
}

func pageWindow[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit < end-offset {
		end = offset + limit
	}
	return items[offset:end]
}

// countsSemanticHits reports whether a query in mode exposes a semantic hit count.
// Only hybrid queries carry one, and a keyword fallback needs query text to count against.
func countsSemanticHits(mode domain.FusionMode, hasQuery, hybrid bool) bool {
	if !hybrid {
		return false
	}
	switch mode {
	case domain.FusionModePlaceholder:
		return false
	case domain.FusionModeKeyword:
		return hasQuery
	default:
		return true
	}
}
