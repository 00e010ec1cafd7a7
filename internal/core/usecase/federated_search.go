package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// FederatedSearchUseCase runs several queries and merges them into one page, or answers
// each query separately when no federation is requested.
type FederatedSearchUseCase struct {
	search *SearchUseCase
}

func NewFederatedSearchUseCase(search *SearchUseCase) *FederatedSearchUseCase {
	return &FederatedSearchUseCase{search: search}
}

func (uc *FederatedSearchUseCase) FederatedSearch(ctx context.Context, request domain.MultiSearchRequest) (*domain.FederatedSearchResult, error) {
	started := time.Now()

	if len(request.Queries) == 0 {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidFederation,
			"Invalid value at `.queries`: a federated search needs at least one query.")
	}

	federation := request.Federation
	if federation == nil {
		federation = &domain.Federation{}
	}
	offset, limit, err := federationPage(federation)
	if err != nil {
		return nil, err
	}

	for i, query := range request.Queries {
		if query.Limit != nil || query.Offset != nil {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidQueryPagination,
				"Inside `.queries[%d]`: Using pagination options is not allowed in federated queries.\n - Hint: remove `limit` and `offset` from query #%d and add them to the `federation` object instead.", i, i)
		}
		if weight := query.Weight(); weight < 0 {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidFederationWeight,
				"Invalid value at `.queries[%d].federationOptions.weight`: the value of `weight` is invalid, expected a positive float (>= 0.0).", i)
		}
	}

	window := uc.search.limits.CandidateWindow(offset, limit)
	plans := make([]*searchPlan, len(request.Queries))
	for i, query := range request.Queries {
		plan, err := uc.search.prepare(ctx, query.SearchQuery, window)
		if err != nil {
			return nil, atQuery(i, err)
		}
		plans[i] = plan
	}

	ranked := make([]*rankedResults, len(plans))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		group.Go(func() error {
			result, err := uc.search.rank(groupCtx, plan)
			if err != nil {
				return atQuery(i, err)
			}
			ranked[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sources := make([]FederationSource, len(plans))
	for i, plan := range plans {
		indexUID := plan.query.IndexUID
		sources[i] = FederationSource{
			ID:            fmt.Sprintf("%d:%s", i, indexUID),
			Position:      i,
			Scope:         uc.distinctScope(plan),
			Weight:        request.Queries[i].Weight(),
			Results:       ranked[i].results,
			Keys:          ranked[i].keys,
			CountSemantic: countsSemanticHits(plan.mode, plan.query.HasQuery(), plan.query.Hybrid != nil),
		}
	}

	page := Federate(sources, offset, limit)
	hits, kept, err := uc.federatedHits(ctx, request.Queries, page.Results)
	if err != nil {
		return nil, err
	}
	if page.SemanticHitCount != nil {
		count := 0
		for _, result := range kept {
			if result.ContributedBy.Has(domain.OriginVector) {
				count++
			}
		}
		page.SemanticHitCount = &count
	}

	return &domain.FederatedSearchResult{
		Hits:               hits,
		ProcessingTimeMs:   time.Since(started).Milliseconds(),
		Limit:              limit,
		Offset:             offset,
		EstimatedTotalHits: page.TotalCandidates,
		SemanticHitCount:   page.SemanticHitCount,
		DroppedDuplicates:  page.DroppedDuplicates,
	}, nil
}

// distinctScope returns the shared scope of the query's index. A query overriding the
// index's distinct attribute builds keys nobody else shares, so it keeps its own scope.
func (uc *FederatedSearchUseCase) distinctScope(plan *searchPlan) string {
	if plan.distinct != plan.settings.DistinctAttribute {
		return ""
	}
	return uc.search.settings.DistinctScope(plan.query.IndexUID)
}

// MultiSearch answers every query independently.
func (uc *FederatedSearchUseCase) MultiSearch(ctx context.Context, queries []domain.FederatedSearchQuery) (*domain.MultiSearchResult, error) {
	results := make([]domain.SearchResult, len(queries))
	for i, query := range queries {
		if query.FederationOptions != nil {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidFederation,
				"Inside `.queries[%d]`: Using `federationOptions` is not allowed in a non-federated search.\n - Hint: remove `federationOptions` from query #%d or add `federation` to the request.", i, i)
		}
		result, err := uc.search.Search(ctx, query.SearchQuery)
		if err != nil {
			return nil, atQuery(i, err)
		}
		result.IndexUID = query.IndexUID
		results[i] = *result
	}
	return &domain.MultiSearchResult{Results: results}, nil
}

func federationPage(federation *domain.Federation) (int, int, error) {
	offset, limit := 0, domain.DefaultSearchLimit
	if federation.Offset != nil {
		if *federation.Offset < 0 {
			return 0, 0, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSearchOffset,
				"Invalid value at `.federation.offset`: expected a positive integer, but found a negative integer: `%d`.", *federation.Offset)
		}
		offset = *federation.Offset
	}
	if federation.Limit != nil {
		if *federation.Limit < 0 {
			return 0, 0, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSearchLimit,
				"Invalid value at `.federation.limit`: expected a positive integer, but found a negative integer: `%d`.", *federation.Limit)
		}
		limit = *federation.Limit
	}
	return offset, limit, nil
}

// atQuery prefixes the public message of err with the position of the failing query.
func atQuery(position int, err error) error {
	var coded *domain.CodedError
	if !errors.As(err, &coded) {
		return fmt.Errorf("query %d: %w", position, err)
	}
	return &domain.CodedError{
		Kind:    coded.Kind,
		Code:    coded.Code,
		Message: fmt.Sprintf("Inside `.queries[%d]`: %s", position, coded.Message),
	}
}

func (uc *FederatedSearchUseCase) federatedHits(
	ctx context.Context,
	queries []domain.FederatedSearchQuery,
	results []FederatedResult,
) ([]domain.Hit, []FederatedResult, error) {
	idsByIndex := make(map[string][]string)
	for _, result := range results {
		indexUID := result.Ref.Source
		idsByIndex[indexUID] = append(idsByIndex[indexUID], result.Ref.ID)
	}

	docsByIndex := make(map[string]map[string]domain.Document, len(idsByIndex))
	for indexUID, ids := range idsByIndex {
		docs, err := uc.search.documents.GetDocuments(ctx, indexUID, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("load page documents of %s: %w", indexUID, err)
		}
		docsByIndex[indexUID] = docs
	}

	hits := make([]domain.Hit, 0, len(results))
	kept := make([]FederatedResult, 0, len(results))
	for _, result := range results {
		doc, ok := docsByIndex[result.Ref.Source][result.Ref.ID]
		if !ok {
			continue
		}
		query := queries[result.Position]
		hit := newHit(doc, result.Score, query.ShowRankingScore, query.RetrieveVectors)
		hit.Federation = &domain.HitFederation{
			IndexUID:             result.Ref.Source,
			QueriesPosition:      result.Position,
			WeightedRankingScore: result.WeightedScore,
		}
		hits = append(hits, hit)
		kept = append(kept, result)
	}
	return hits, kept, nil
}
