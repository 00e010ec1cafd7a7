package usecase

import (
	"math"
	"testing"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

func candidateSet(origin domain.Origin, candidates ...domain.ScoredCandidate) *domain.CandidateSet {
	set := domain.NewCandidateSet(origin, len(candidates))
	for _, c := range candidates {
		set.Add(c.Ref, c.RawScore)
	}
	return set
}

func resultIDs(results []domain.FusedResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Ref.ID)
	}
	return ids
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNormalizeScoreDefaultMapsCosineToUnitRange(t *testing.T) {
	cosine := 2 / math.Sqrt(13)
	if got := NormalizeScore(cosine, nil); math.Abs(got-0.7773500680923462) > 1e-6 {
		t.Fatalf("unexpected normalized score: %v", got)
	}
	if got := NormalizeScore(1, nil); got != 1 {
		t.Fatalf("expected identical vectors to score 1, got %v", got)
	}
	if got := NormalizeScore(-1, nil); got != 0 {
		t.Fatalf("expected opposite vectors to score 0, got %v", got)
	}
	if got := NormalizeScore(3, nil); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := NormalizeScore(math.NaN(), nil); got != 0 {
		t.Fatalf("expected NaN to score 0, got %v", got)
	}
}

func TestNormalizeScoreDistributionSpreadsClusteredScores(t *testing.T) {
	dist := &domain.Distribution{Mean: 0.998, Sigma: 0.001}

	if got := NormalizeScore(0.998, dist); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("expected mean to map to 0.5, got %v", got)
	}

	high := NormalizeScore(0.999, dist)
	low := NormalizeScore(0.997, dist)
	if high <= 0.7 || low >= 0.3 {
		t.Fatalf("expected clustered scores to spread, high=%v low=%v", high, low)
	}
	if withoutDist := NormalizeScore(0.999, nil) - NormalizeScore(0.997, nil); withoutDist > 0.01 {
		t.Fatalf("expected default normalization to keep scores clustered, spread=%v", withoutDist)
	}

	step := &domain.Distribution{Mean: 0.5}
	if NormalizeScore(0.6, step) != 1 || NormalizeScore(0.4, step) != 0 {
		t.Fatalf("expected non-positive sigma to act as a step")
	}
	if NormalizeScore(0.999, dist) != high {
		t.Fatalf("expected deterministic output")
	}
}

func TestSelectFusionMode(t *testing.T) {
	tests := []struct {
		name           string
		hasQuery       bool
		hasVectorInput bool
		hybrid         bool
		ratio          float64
		want           domain.FusionMode
	}{
		{name: "nothing with hybrid", hybrid: true, ratio: 0.5, want: domain.FusionModePlaceholder},
		{name: "nothing without hybrid", ratio: 0.5, want: domain.FusionModePlaceholder},
		{name: "query without hybrid", hasQuery: true, ratio: 0.5, want: domain.FusionModeKeyword},
		{name: "ratio zero", hasQuery: true, hasVectorInput: true, hybrid: true, ratio: 0, want: domain.FusionModeKeyword},
		{name: "ratio zero vector only", hasVectorInput: true, hybrid: true, ratio: 0, want: domain.FusionModePlaceholder},
		{name: "no vector below one", hasQuery: true, hybrid: true, ratio: 0.99, want: domain.FusionModeKeyword},
		{name: "no vector at one", hasQuery: true, hybrid: true, ratio: 1, want: domain.FusionModeSemantic},
		{name: "ratio one", hasQuery: true, hasVectorInput: true, hybrid: true, ratio: 1, want: domain.FusionModeSemantic},
		{name: "vector only", hasVectorInput: true, hybrid: true, ratio: 0.5, want: domain.FusionModeSemantic},
		{name: "weighted", hasQuery: true, hasVectorInput: true, hybrid: true, ratio: 0.5, want: domain.FusionModeHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectFusionMode(tt.hasQuery, tt.hasVectorInput, tt.hybrid, tt.ratio)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFuseWeightedUnionScoresEveryDocumentOnce(t *testing.T) {
	lexical := candidateSet(domain.OriginLexical,
		candidate("movies", "both", 1.0),
		candidate("movies", "lex", 0.5),
	)
	vector := candidateSet(domain.OriginVector,
		candidate("movies", "vec", 1.0),
		candidate("movies", "both", 0.0),
	)

	fused := Fuse(domain.FusionModeHybrid, lexical, vector, 0.5, nil)
	if !equalIDs(resultIDs(fused), "both", "vec", "lex") {
		t.Fatalf("unexpected order: %v", resultIDs(fused))
	}

	want := map[string]struct {
		score  float64
		origin domain.Origin
	}{
		"both": {score: 0.5*0.5 + 0.5*1.0, origin: domain.OriginLexical | domain.OriginVector},
		"vec":  {score: 0.5, origin: domain.OriginVector},
		"lex":  {score: 0.25, origin: domain.OriginLexical},
	}
	for _, r := range fused {
		w := want[r.Ref.ID]
		if math.Abs(r.Score-w.score) > 1e-12 {
			t.Fatalf("%s: expected score %v, got %v", r.Ref.ID, w.score, r.Score)
		}
		if r.ContributedBy != w.origin {
			t.Fatalf("%s: expected origin %s, got %s", r.Ref.ID, w.origin, r.ContributedBy)
		}
		if r.Score < 0 || r.Score > 1 {
			t.Fatalf("%s: score out of range: %v", r.Ref.ID, r.Score)
		}
	}
}

func TestFusePureModesUseOneSource(t *testing.T) {
	lexical := candidateSet(domain.OriginLexical, candidate("movies", "a", 0.9), candidate("movies", "b", 0.4))
	vector := candidateSet(domain.OriginVector, candidate("movies", "c", 0.8))

	keyword := Fuse(domain.FusionModeKeyword, lexical, vector, 0, nil)
	if !equalIDs(resultIDs(keyword), "a", "b") {
		t.Fatalf("unexpected keyword results: %v", resultIDs(keyword))
	}
	if keyword[0].Score != 0.9 || keyword[0].ContributedBy != domain.OriginLexical {
		t.Fatalf("expected raw lexical score to pass through, got %+v", keyword[0])
	}

	semantic := Fuse(domain.FusionModeSemantic, lexical, vector, 1, nil)
	if !equalIDs(resultIDs(semantic), "c") {
		t.Fatalf("unexpected semantic results: %v", resultIDs(semantic))
	}
	if math.Abs(semantic[0].Score-0.9) > 1e-12 || semantic[0].ContributedBy != domain.OriginVector {
		t.Fatalf("unexpected semantic result: %+v", semantic[0])
	}
}

func TestFusePlaceholderScoresEverythingOne(t *testing.T) {
	lexical := candidateSet(domain.OriginLexical, candidate("movies", "1", 1), candidate("movies", "2", 1), candidate("movies", "3", 1))

	fused := Fuse(domain.FusionModePlaceholder, lexical, nil, 0.5, nil)
	if !equalIDs(resultIDs(fused), "1", "2", "3") {
		t.Fatalf("unexpected placeholder order: %v", resultIDs(fused))
	}
	for _, r := range fused {
		if r.Score != 1.0 || r.ContributedBy != 0 {
			t.Fatalf("unexpected placeholder result: %+v", r)
		}
	}
}

func TestFuseTiesAreDeterministic(t *testing.T) {
	keyword := Fuse(domain.FusionModeKeyword,
		candidateSet(domain.OriginLexical, candidate("movies", "z", 0.5), candidate("movies", "a", 0.5)),
		nil, 0, nil)
	if !equalIDs(resultIDs(keyword), "z", "a") {
		t.Fatalf("expected lexical input order to break ties, got %v", resultIDs(keyword))
	}

	lexical := candidateSet(domain.OriginLexical, candidate("movies", "x", 0.5))
	vector := candidateSet(domain.OriginVector, candidate("movies", "b", 0.0), candidate("movies", "a", 0.0))
	for i := 0; i < 20; i++ {
		fused := Fuse(domain.FusionModeHybrid, lexical, vector, 0.5, nil)
		if !equalIDs(resultIDs(fused), "x", "b", "a") {
			t.Fatalf("run %d: unexpected tie order %v", i, resultIDs(fused))
		}
	}
}

func TestDistinctAfterFusionKeepsOnlyTheBestOfSameProduct(t *testing.T) {
	lexical := candidateSet(domain.OriginLexical,
		candidate("shop", "lexical-top", 1.0),
		candidate("shop", "vector-top", 0.2),
	)
	vector := candidateSet(domain.OriginVector,
		candidate("shop", "vector-top", 0.9),
		candidate("shop", "lexical-top", 0.1),
	)
	keys := map[string]domain.DistinctKey{
		"lexical-top": `"SAME_PRODUCT"`,
		"vector-top":  `"SAME_PRODUCT"`,
	}

	fused := Fuse(domain.FusionModeHybrid, lexical, vector, 0.5, nil)
	deduped, dropped := Dedupe(fused, keyLookup(keys))
	result := Paginate(deduped, 0, 20, true)
	page, semanticHits := result.Results, result.SemanticHitCount

	if len(page) != 1 || dropped != 1 {
		t.Fatalf("expected one hit and one dropped duplicate, got %v dropped=%d", resultIDs(page), dropped)
	}
	if page[0].Ref.ID != fused[0].Ref.ID || page[0].Ref.ID != "lexical-top" {
		t.Fatalf("expected the higher fused score to survive, got %s", page[0].Ref.ID)
	}
	if semanticHits == nil || *semanticHits != 1 {
		t.Fatalf("expected one semantic hit, got %v", semanticHits)
	}
}

func TestDistinctAfterFusionKeepsOneHitPerGroup(t *testing.T) {
	lexical := candidateSet(domain.OriginLexical,
		candidate("shop", "l1", 1.0),
		candidate("shop", "l2", 0.9),
		candidate("shop", "l3", 0.7),
	)
	vector := candidateSet(domain.OriginVector,
		candidate("shop", "v1", 0.9),
		candidate("shop", "v2", 0.7),
		candidate("shop", "v3", 0.6),
	)
	keys := map[string]domain.DistinctKey{
		"l1": `"g1"`, "v1": `"g1"`,
		"l2": `"g2"`, "v2": `"g2"`,
		"l3": `"g3"`, "v3": `"g3"`,
	}

	fused := Fuse(domain.FusionModeHybrid, lexical, vector, 0.5, nil)
	deduped, dropped := Dedupe(fused, keyLookup(keys))
	page := Paginate(deduped, 0, 10, true).Results

	if !equalIDs(resultIDs(page), "l1", "l2", "v3") {
		t.Fatalf("expected one hit per group, got %v", resultIDs(page))
	}
	if dropped != 3 {
		t.Fatalf("expected 3 dropped duplicates, got %d", dropped)
	}
	seen := map[domain.DistinctKey]bool{}
	for _, r := range page {
		key := keys[r.Ref.ID]
		if seen[key] {
			t.Fatalf("duplicate distinct key %s in page", key)
		}
		seen[key] = true
	}
}

func TestDedupeKeepsDocumentsWithoutKey(t *testing.T) {
	sorted := []domain.FusedResult{
		{Ref: domain.DocumentRef{Source: "s", ID: "1"}, Score: 0.9},
		{Ref: domain.DocumentRef{Source: "s", ID: "2"}, Score: 0.8},
		{Ref: domain.DocumentRef{Source: "s", ID: "3"}, Score: 0.7},
		{Ref: domain.DocumentRef{Source: "s", ID: "4"}, Score: 0.6},
	}
	keys := map[string]domain.DistinctKey{"1": `"a"`, "4": `"a"`}

	kept, dropped := Dedupe(sorted, keyLookup(keys))
	if !equalIDs(resultIDs(kept), "1", "2", "3") || dropped != 1 {
		t.Fatalf("unexpected dedupe result %v dropped=%d", resultIDs(kept), dropped)
	}

	all, none := Dedupe(sorted, nil)
	if len(all) != 4 || none != 0 {
		t.Fatalf("expected no distinct attribute to keep everything")
	}
}

func TestPaginateCountsSemanticHitsOnThePageOnly(t *testing.T) {
	deduped := []domain.FusedResult{
		{Ref: domain.DocumentRef{ID: "1"}, ContributedBy: domain.OriginVector},
		{Ref: domain.DocumentRef{ID: "2"}, ContributedBy: domain.OriginLexical},
		{Ref: domain.DocumentRef{ID: "3"}, ContributedBy: domain.OriginLexical | domain.OriginVector},
		{Ref: domain.DocumentRef{ID: "4"}, ContributedBy: domain.OriginVector},
		{Ref: domain.DocumentRef{ID: "5"}, ContributedBy: domain.OriginLexical},
	}

	page := Paginate(deduped, 1, 2, true)
	if !equalIDs(resultIDs(page.Results), "2", "3") {
		t.Fatalf("unexpected page: %v", resultIDs(page.Results))
	}
	if page.SemanticHitCount == nil || *page.SemanticHitCount != 1 {
		t.Fatalf("expected page-only semantic count 1, got %v", page.SemanticHitCount)
	}
	if page.TotalCandidates != 5 {
		t.Fatalf("expected 5 candidates before paging, got %d", page.TotalCandidates)
	}

	page = Paginate(deduped, 4, 10, true)
	if !equalIDs(resultIDs(page.Results), "5") || page.SemanticHitCount == nil || *page.SemanticHitCount != 0 {
		t.Fatalf("unexpected clipped page %v count=%v", resultIDs(page.Results), page.SemanticHitCount)
	}

	page = Paginate(deduped, 10, 10, false)
	if len(page.Results) != 0 || page.SemanticHitCount != nil {
		t.Fatalf("expected empty page and nil count, got %v %v", resultIDs(page.Results), page.SemanticHitCount)
	}
}
