package httpadapter

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/observability/metrics"
)

func (rt *Router) searchPost(w http.ResponseWriter, r *http.Request) {
	var query domain.SearchQuery
	if err := decodeJSONBody(r, &query); err != nil {
		writeError(w, r, err)
		return
	}
	query.IndexUID = r.PathValue("uid")
	rt.runSearch(w, r, query)
}

func (rt *Router) searchGet(w http.ResponseWriter, r *http.Request) {
	query, err := searchQueryFromURL(r.PathValue("uid"), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.runSearch(w, r, query)
}

func (rt *Router) runSearch(w http.ResponseWriter, r *http.Request, query domain.SearchQuery) {
	started := time.Now()
	result, err := rt.services.Search.Search(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	semanticHits := 0
	if result.SemanticHitCount != nil {
		semanticHits = *result.SemanticHitCount
	}
	rt.metrics.RecordSearch(serviceName, metrics.SearchObservation{
		Endpoint:          "search",
		Mode:              string(result.Mode),
		Hits:              len(result.Hits),
		SemanticHits:      semanticHits,
		DroppedDuplicates: result.DroppedDuplicates,
		Duration:          time.Since(started),
	})
	requestLogger(r).Info("search_completed",
		"index", query.IndexUID,
		"mode", result.Mode,
		"hits", len(result.Hits),
		"candidates", result.EstimatedTotalHits,
		"dropped_duplicates", result.DroppedDuplicates,
		"duration_ms", result.ProcessingTimeMs,
	)

	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) multiSearch(w http.ResponseWriter, r *http.Request) {
	var request domain.MultiSearchRequest
	if err := decodeJSONBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	started := time.Now()
	if request.Federation == nil {
		result, err := rt.services.Federated.MultiSearch(r.Context(), request.Queries)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, res := range result.Results {
			rt.recordMultiSearchResult(res, time.Since(started))
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := rt.services.Federated.FederatedSearch(r.Context(), request)
	if err != nil {
		writeError(w, r, err)
		return
	}
	semanticHits := 0
	if result.SemanticHitCount != nil {
		semanticHits = *result.SemanticHitCount
	}
	rt.metrics.RecordSearch(serviceName, metrics.SearchObservation{
		Endpoint:          "federated",
		Mode:              "federated",
		Hits:              len(result.Hits),
		SemanticHits:      semanticHits,
		DroppedDuplicates: result.DroppedDuplicates,
		Duration:          time.Since(started),
	})
	requestLogger(r).Info("search_completed",
		"queries", len(request.Queries),
		"mode", "federated",
		"hits", len(result.Hits),
		"candidates", result.EstimatedTotalHits,
		"dropped_duplicates", result.DroppedDuplicates,
		"duration_ms", result.ProcessingTimeMs,
	)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) recordMultiSearchResult(result domain.SearchResult, elapsed time.Duration) {
	semanticHits := 0
	if result.SemanticHitCount != nil {
		semanticHits = *result.SemanticHitCount
	}
	rt.metrics.RecordSearch(serviceName, metrics.SearchObservation{
		Endpoint:          "multi-search",
		Mode:              string(result.Mode),
		Hits:              len(result.Hits),
		SemanticHits:      semanticHits,
		DroppedDuplicates: result.DroppedDuplicates,
		Duration:          elapsed,
	})
}

// searchQueryFromURL reads the GET search parameters. List parameters are comma separated.
func searchQueryFromURL(indexUID string, values url.Values) (domain.SearchQuery, error) {
	query := domain.SearchQuery{
		IndexUID:   indexUID,
		RatioParam: "hybridSemanticRatio",
	}

	if values.Has("q") {
		q := values.Get("q")
		query.Q = &q
	}

	var err error
	if query.Limit, err = intParam(values, "limit", domain.CodeInvalidSearchLimit); err != nil {
		return query, err
	}
	if query.Offset, err = intParam(values, "offset", domain.CodeInvalidSearchOffset); err != nil {
		return query, err
	}
	if query.ShowRankingScore, err = boolParam(values, "showRankingScore"); err != nil {
		return query, err
	}
	if query.RetrieveVectors, err = boolParam(values, "retrieveVectors"); err != nil {
		return query, err
	}

	if values.Has("hybridEmbedder") || values.Has("hybridSemanticRatio") {
		query.Hybrid = &domain.HybridQuery{Embedder: values.Get("hybridEmbedder")}
		if raw := values.Get("hybridSemanticRatio"); raw != "" {
			ratio, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return query, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSemanticRatio,
					"Invalid value in parameter `hybridSemanticRatio`: could not parse `%s` as a float.", raw)
			}
			query.Hybrid.SemanticRatio = &ratio
		}
	}

	if raw := values.Get("vector"); raw != "" {
		parts := splitList(raw)
		query.Vector = make([]float32, 0, len(parts))
		for _, part := range parts {
			v, err := strconv.ParseFloat(part, 32)
			if err != nil {
				return query, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeBadRequest,
					"Invalid value in parameter `vector`: could not parse `%s` as a float.", part)
			}
			query.Vector = append(query.Vector, float32(v))
		}
	}

	if raw := values.Get("attributesToSearchOn"); raw != "" {
		query.AttributesToSearchOn = splitList(raw)
	}
	query.Distinct = values.Get("distinct")

	return query, nil
}

func intParam(values url.Values, name string, code domain.ErrorCode) (*int, error) {
	raw := values.Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, code,
			"Invalid value in parameter `%s`: could not parse `%s` as a positive integer.", name, raw)
	}
	return &n, nil
}

func boolParam(values url.Values, name string) (bool, error) {
	raw := values.Get(name)
	if raw == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeBadRequest,
			"Invalid value in parameter `%s`: could not parse `%s` as a boolean.", name, raw)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
