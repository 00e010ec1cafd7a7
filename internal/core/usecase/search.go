package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

type SearchUseCase struct {
	settings  ports.SettingsProvider
	lexical   ports.LexicalSearcher
	vectors   ports.VectorSearcher
	embedders ports.EmbedderRegistry
	lookup    ports.AttributeLookup
	documents ports.DocumentStore
	limits    domain.SearchLimits
}

func NewSearchUseCase(
	settings ports.SettingsProvider,
	lexical ports.LexicalSearcher,
	vectors ports.VectorSearcher,
	embedders ports.EmbedderRegistry,
	lookup ports.AttributeLookup,
	documents ports.DocumentStore,
	limits domain.SearchLimits,
) *SearchUseCase {
	if limits.Timeout <= 0 {
		limits.Timeout = 5 * time.Second
	}
	if limits.CandidateMultiplier <= 0 {
		limits.CandidateMultiplier = 3
	}
	if limits.MaxCandidates <= 0 {
		limits.MaxCandidates = 1000
	}
	return &SearchUseCase{
		settings:  settings,
		lexical:   lexical,
		vectors:   vectors,
		embedders: embedders,
		lookup:    lookup,
		documents: documents,
		limits:    limits,
	}
}

// searchPlan is a validated query ready for retrieval.
type searchPlan struct {
	query        domain.SearchQuery
	settings     domain.IndexSettings
	mode         domain.FusionMode
	ratio        float64
	embedderName string
	embedderCfg  domain.EmbedderSettings
	embedder     ports.Embedder
	terms        []string
	attributes   []string
	distinct     string
	window       int
}

// rankedResults is the fused and deduped candidate list of one query, before pagination.
type rankedResults struct {
	results []domain.FusedResult
	keys    map[string]domain.DistinctKey
	dropped int
}

func (uc *SearchUseCase) Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error) {
	started := time.Now()

	if err := validatePagination(query); err != nil {
		return nil, err
	}
	offset, limit := query.PageOffset(), query.PageLimit()

	plan, err := uc.prepare(ctx, query, uc.limits.CandidateWindow(offset, limit))
	if err != nil {
		return nil, err
	}

	ranked, err := uc.rank(ctx, plan)
	if err != nil {
		return nil, err
	}

	page := Paginate(ranked.results, offset, limit, countsSemanticHits(plan.mode, query.HasQuery(), query.Hybrid != nil))
	page.Mode = plan.mode
	page.DroppedDuplicates = ranked.dropped
	hits, kept, err := uc.buildHits(ctx, query.IndexUID, page.Results, query.ShowRankingScore, query.RetrieveVectors)
	if err != nil {
		return nil, err
	}
	if page.SemanticHitCount != nil {
		// Documents deleted since ranking are not returned and not counted.
		count := semanticHits(kept)
		page.SemanticHitCount = &count
	}

	return &domain.SearchResult{
		Hits:               hits,
		Query:              query.QueryText(),
		ProcessingTimeMs:   time.Since(started).Milliseconds(),
		Limit:              limit,
		Offset:             offset,
		EstimatedTotalHits: page.TotalCandidates,
		SemanticHitCount:   page.SemanticHitCount,
		Mode:               page.Mode,
		DroppedDuplicates:  page.DroppedDuplicates,
	}, nil
}

func validatePagination(query domain.SearchQuery) error {
	if query.Limit != nil && *query.Limit < 0 {
		return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSearchLimit,
			"Invalid value at `.limit`: expected a positive integer, but found a negative integer: `%d`.", *query.Limit)
	}
	if query.Offset != nil && *query.Offset < 0 {
		return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSearchOffset,
			"Invalid value at `.offset`: expected a positive integer, but found a negative integer: `%d`.", *query.Offset)
	}
	return nil
}

// prepare validates query against the index settings. Nothing is retrieved before it succeeds.
func (uc *SearchUseCase) prepare(ctx context.Context, query domain.SearchQuery, window int) (*searchPlan, error) {
	settings, ok := uc.settings.IndexSettings(query.IndexUID)
	if !ok {
		return nil, indexNotFound(query.IndexUID)
	}

	plan := &searchPlan{
		query:    query,
		settings: settings,
		ratio:    query.Hybrid.Ratio(),
		terms:    domain.UniqueTerms(query.QueryText()),
		distinct: settings.DistinctAttribute,
		window:   window,
	}

	if query.Hybrid != nil {
		if plan.ratio < 0 || plan.ratio > 1 {
			return nil, invalidRatioError(query.RatioParam)
		}
		if strings.TrimSpace(query.Hybrid.Embedder) == "" {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidEmbedder,
				"Missing field `embedder` inside `.hybrid`")
		}
		embedderCfg, ok := settings.Embedder(query.Hybrid.Embedder)
		if !ok {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidEmbedder,
				"Cannot find embedder with name `%s`.", query.Hybrid.Embedder)
		}
		plan.embedderName = query.Hybrid.Embedder
		plan.embedderCfg = embedderCfg
	} else if len(query.Vector) > 0 {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeMissingHybrid,
			"Invalid request: missing `hybrid` parameter when `vector` is present.")
	}

	if len(query.Vector) > 0 && plan.embedderCfg.Dimensions > 0 && len(query.Vector) != plan.embedderCfg.Dimensions {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidVectorDimensions,
			"Invalid vector dimensions: expected: `%d`, found: `%d`.", plan.embedderCfg.Dimensions, len(query.Vector))
	}

	if query.Distinct != "" {
		if query.Distinct == domain.WildcardAttribute {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidDistinct,
				"Invalid value at `.distinct`: `*` is not a valid distinct attribute.")
		}
		plan.distinct = query.Distinct
	}

	for _, attribute := range query.AttributesToSearchOn {
		if attribute == domain.WildcardAttribute || domain.IsSearchable(attribute, settings.SearchableAttributes) {
			continue
		}
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidAttributesToSearchOn,
			"Attribute `%s` is not searchable. Available searchable attributes are: `%s`.",
			attribute, strings.Join(settings.SearchableAttributes, ", "))
	}

	hasQuery := len(plan.terms) > 0
	canEmbedText := query.Hybrid != nil && plan.embedderCfg.EmbedsText()
	hasVectorInput := len(query.Vector) > 0 || (hasQuery && canEmbedText)
	plan.mode = SelectFusionMode(hasQuery, hasVectorInput, query.Hybrid != nil, plan.ratio)

	if plan.mode.UsesVector() && len(query.Vector) == 0 {
		if !canEmbedText {
			return nil, domain.NewCodedError(domain.ErrEmbedding, domain.CodeVectorEmbedding,
				"Error while generating embeddings: user error: attempt to embed the following text in a configuration where embeddings must be user provided:\n  - `%s`",
				query.QueryText())
		}
		embedder, err := uc.embedders.Embedder(query.IndexUID, plan.embedderName)
		if err != nil {
			return nil, fmt.Errorf("resolve embedder: %w", err)
		}
		plan.embedder = embedder
	}

	if plan.mode.UsesLexical() && hasQuery {
		attributes, err := uc.searchAttributes(ctx, query, settings)
		if err != nil {
			return nil, err
		}
		plan.attributes = attributes
	}

	return plan, nil
}

func invalidRatioError(param string) error {
	location := "at `.hybrid.semanticRatio`"
	if param != "" {
		location = fmt.Sprintf("in parameter `%s`", param)
	}
	return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSemanticRatio,
		"Invalid value %s: the value of `semanticRatio` is invalid, expected a float between `0.0` and `1.0`.", location)
}

// searchAttributes resolves the concrete attributes the lexical source must match on.
// Field names are only loaded when a wildcard has to be expanded against every known field.
func (uc *SearchUseCase) searchAttributes(ctx context.Context, query domain.SearchQuery, settings domain.IndexSettings) ([]string, error) {
	var known []string
	if needsKnownFields(query.AttributesToSearchOn, settings.SearchableAttributes) {
		fields, err := uc.documents.FieldNames(ctx, query.IndexUID)
		if err != nil {
			return nil, fmt.Errorf("load field names: %w", err)
		}
		known = fields
	}
	return domain.ResolveSearchAttributes(query.AttributesToSearchOn, settings.SearchableAttributes, known), nil
}

func needsKnownFields(requested, searchable []string) bool {
	if len(searchable) > 0 && !containsWildcard(searchable) {
		return false
	}
	return len(requested) == 0 || containsWildcard(requested)
}

func containsWildcard(attributes []string) bool {
	for _, attribute := range attributes {
		if attribute == domain.WildcardAttribute {
			return true
		}
	}
	return false
}

// rank retrieves from both sources concurrently, fuses the candidates and applies distinct once.
// Any retrieval failure or cancellation aborts the whole query.
func (uc *SearchUseCase) rank(ctx context.Context, plan *searchPlan) (*rankedResults, error) {
	searchCtx, cancel := context.WithTimeout(ctx, uc.limits.Timeout)
	defer cancel()

	var lexical, vector *domain.CandidateSet
	group, groupCtx := errgroup.WithContext(searchCtx)

	if plan.mode.UsesLexical() {
		group.Go(func() error {
			terms := plan.terms
			if plan.mode == domain.FusionModePlaceholder {
				terms = nil
			}
			set, err := uc.lexical.Search(groupCtx, domain.LexicalQuery{
				IndexUID:   plan.query.IndexUID,
				Terms:      terms,
				Attributes: plan.attributes,
				Typo:       plan.settings.TypoTolerance,
				Limit:      plan.window,
			})
			if err != nil {
				return fmt.Errorf("lexical search: %w", err)
			}
			lexical = set
			return nil
		})
	}

	if plan.mode.UsesVector() {
		group.Go(func() error {
			queryVector, err := uc.queryVector(groupCtx, plan)
			if err != nil {
				return err
			}
			set, err := uc.vectors.Search(groupCtx, plan.query.IndexUID, plan.embedderName, queryVector, plan.window)
			if err != nil {
				return fmt.Errorf("vector search: %w", err)
			}
			vector = set
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, retrievalError(ctx, err)
	}

	fused := Fuse(plan.mode, lexical, vector, plan.ratio, plan.embedderCfg.Distribution)
	ranked := &rankedResults{}

	if plan.distinct == "" || len(fused) == 0 {
		ranked.results = fused
		return ranked, nil
	}

	ids := make([]string, 0, len(fused))
	for _, result := range fused {
		ids = append(ids, result.Ref.ID)
	}
	keys, err := uc.lookup.DistinctValues(searchCtx, plan.query.IndexUID, plan.distinct, ids)
	if err != nil {
		return nil, retrievalError(ctx, fmt.Errorf("distinct lookup: %w", err))
	}
	ranked.keys = keys
	ranked.results, ranked.dropped = Dedupe(fused, keyLookup(keys))
	return ranked, nil
}

func (uc *SearchUseCase) queryVector(ctx context.Context, plan *searchPlan) ([]float32, error) {
	if len(plan.query.Vector) > 0 {
		return plan.query.Vector, nil
	}
	vector, err := plan.embedder.EmbedQuery(ctx, plan.query.QueryText())
	if err != nil {
		if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrEmbedding) || ctx.Err() != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}
	if plan.embedderCfg.Dimensions > 0 && len(vector) != plan.embedderCfg.Dimensions {
		return nil, domain.NewCodedError(domain.ErrEmbedding, domain.CodeVectorEmbedding,
			"Error while generating embeddings: embedder `%s` returned %d dimensions, expected %d.",
			plan.embedderName, len(vector), plan.embedderCfg.Dimensions)
	}
	return vector, nil
}

// retrievalError turns a timeout of the query's own deadline into a temporary failure.
// Cancellation by the caller is returned unchanged.
func retrievalError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("search aborted: %w", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) && !domain.IsKind(err, domain.ErrTemporary) {
		return domain.WrapError(domain.ErrTemporary, "search", err)
	}
	return err
}

func (uc *SearchUseCase) buildHits(
	ctx context.Context,
	indexUID string,
	page []domain.FusedResult,
	showRankingScore, retrieveVectors bool,
) ([]domain.Hit, []domain.FusedResult, error) {
	hits := make([]domain.Hit, 0, len(page))
	if len(page) == 0 {
		return hits, page, nil
	}

	ids := make([]string, 0, len(page))
	for _, result := range page {
		ids = append(ids, result.Ref.ID)
	}
	docs, err := uc.documents.GetDocuments(ctx, indexUID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load page documents: %w", err)
	}

	kept := make([]domain.FusedResult, 0, len(page))
	for _, result := range page {
		doc, ok := docs[result.Ref.ID]
		if !ok {
			continue
		}
		hits = append(hits, newHit(doc, result.Score, showRankingScore, retrieveVectors))
		kept = append(kept, result)
	}
	return hits, kept, nil
}

func newHit(doc domain.Document, score float64, showRankingScore, retrieveVectors bool) domain.Hit {
	hit := domain.Hit{Fields: doc.Fields}
	if showRankingScore {
		s := score
		hit.RankingScore = &s
	}
	if retrieveVectors {
		hit.Vectors = doc.Vectors
		if hit.Vectors == nil {
			hit.Vectors = map[string][][]float32{}
		}
	}
	return hit
}
