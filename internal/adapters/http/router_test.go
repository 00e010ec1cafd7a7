package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/config"
	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

type searchFake struct {
	result *domain.SearchResult
	err    error
	got    domain.SearchQuery
}

func (f *searchFake) Search(_ context.Context, query domain.SearchQuery) (*domain.SearchResult, error) {
	f.got = query
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	semantic := 1
	return &domain.SearchResult{
		Hits:               []domain.Hit{{Fields: map[string]any{"id": "1", "title": "Captain Marvel"}}},
		Query:              query.QueryText(),
		Limit:              query.PageLimit(),
		EstimatedTotalHits: 1,
		SemanticHitCount:   &semantic,
		Mode:               domain.FusionModeHybrid,
	}, nil
}

type federatedFake struct {
	err         error
	request     domain.MultiSearchRequest
	multiCalled bool
}

func (f *federatedFake) FederatedSearch(_ context.Context, request domain.MultiSearchRequest) (*domain.FederatedSearchResult, error) {
	f.request = request
	if f.err != nil {
		return nil, f.err
	}
	return &domain.FederatedSearchResult{
		Hits: []domain.Hit{{
			Fields:     map[string]any{"id": "10"},
			Federation: &domain.HitFederation{IndexUID: "movies_fr", QueriesPosition: 1, WeightedRankingScore: 0.45},
		}},
		Limit:              20,
		EstimatedTotalHits: 1,
	}, nil
}

func (f *federatedFake) MultiSearch(_ context.Context, queries []domain.FederatedSearchQuery) (*domain.MultiSearchResult, error) {
	f.multiCalled = true
	results := make([]domain.SearchResult, 0, len(queries))
	for _, q := range queries {
		results = append(results, domain.SearchResult{IndexUID: q.IndexUID, Hits: []domain.Hit{}})
	}
	return &domain.MultiSearchResult{Results: results}, nil
}

type ingestFake struct {
	err   error
	index string
	body  []byte
}

func (f *ingestFake) AddDocuments(_ context.Context, indexUID string, body []byte) (*domain.Task, error) {
	f.index = indexUID
	f.body = body
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Task{
		UID:               "task-1",
		IndexUID:          indexUID,
		Type:              domain.TaskTypeDocumentAddition,
		Status:            domain.TaskStatusEnqueued,
		ReceivedDocuments: 2,
		EnqueuedAt:        time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}, nil
}

type readerFake struct {
	err error
}

func (f readerFake) GetDocument(_ context.Context, indexUID, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{
		IndexUID: indexUID,
		ID:       id,
		Fields:   map[string]any{"id": id, "title": "Shazam!"},
		Vectors:  map[string][][]float32{"manual": {{1, 3}}},
	}, nil
}

func (f readerFake) GetSettings(_ context.Context, indexUID string) (*domain.IndexSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.IndexSettings{UID: indexUID, PrimaryKey: "id", SearchableAttributes: []string{"*"}, TypoTolerance: domain.DefaultTypoConfig()}, nil
}

func (f readerFake) GetTask(_ context.Context, uid string) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Task{UID: uid, IndexUID: "movies", Status: domain.TaskStatusSucceeded}, nil
}

type routerFixture struct {
	handler   http.Handler
	search    *searchFake
	federated *federatedFake
	ingest    *ingestFake
}

func newRouterFixture(cfg config.Config, reader readerFake) *routerFixture {
	f := &routerFixture{
		search:    &searchFake{},
		federated: &federatedFake{},
		ingest:    &ingestFake{},
	}
	f.handler = NewRouter(cfg, Services{
		Search:    f.search,
		Federated: f.federated,
		Ingest:    f.ingest,
		Documents: reader,
		Tasks:     reader,
	}, nil).Handler()
	return f
}

func serve(handler http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeError(t *testing.T, res *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(bytes.NewReader(res.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})
	res := serve(f.handler, http.MethodGet, "/health", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestSearchPostPassesQueryAndReturnsResult(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	res := serve(f.handler, http.MethodPost, "/indexes/movies/search",
		`{"q": "captain", "hybrid": {"embedder": "default", "semanticRatio": 0.7}, "limit": 5, "showRankingScore": true}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if f.search.got.IndexUID != "movies" || f.search.got.PageLimit() != 5 || !f.search.got.ShowRankingScore {
		t.Fatalf("unexpected query passed to search: %+v", f.search.got)
	}
	if f.search.got.Hybrid == nil || f.search.got.Hybrid.Ratio() != 0.7 || f.search.got.RatioParam != "" {
		t.Fatalf("unexpected hybrid options: %+v", f.search.got.Hybrid)
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["semanticHitCount"] != float64(1) || body["query"] != "captain" {
		t.Fatalf("unexpected response body %v", body)
	}
	hits, _ := body["hits"].([]any)
	if len(hits) != 1 || hits[0].(map[string]any)["title"] != "Captain Marvel" {
		t.Fatalf("expected flattened hit fields, got %v", body["hits"])
	}
}

func TestSearchGetParsesParameters(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	res := serve(f.handler, http.MethodGet,
		"/indexes/movies/search?q=dog&limit=3&offset=1&hybridEmbedder=manual&hybridSemanticRatio=1&vector=1,3&attributesToSearchOn=title,%20overview&distinct=product&retrieveVectors=true", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	got := f.search.got
	if got.QueryText() != "dog" || got.PageLimit() != 3 || got.PageOffset() != 1 {
		t.Fatalf("unexpected query %+v", got)
	}
	if got.Hybrid == nil || got.Hybrid.Embedder != "manual" || got.Hybrid.Ratio() != 1 || got.RatioParam != "hybridSemanticRatio" {
		t.Fatalf("unexpected hybrid options %+v", got.Hybrid)
	}
	if len(got.Vector) != 2 || got.Vector[1] != 3 {
		t.Fatalf("unexpected vector %v", got.Vector)
	}
	if len(got.AttributesToSearchOn) != 2 || got.AttributesToSearchOn[1] != "overview" {
		t.Fatalf("unexpected attributes %v", got.AttributesToSearchOn)
	}
	if got.Distinct != "product" || !got.RetrieveVectors {
		t.Fatalf("unexpected distinct/retrieveVectors %+v", got)
	}
}

func TestSearchGetRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		target  string
		code    domain.ErrorCode
		message string
	}{
		{target: "/indexes/movies/search?hybridEmbedder=default&hybridSemanticRatio=abc", code: domain.CodeInvalidSemanticRatio, message: "parameter `hybridSemanticRatio`"},
		{target: "/indexes/movies/search?limit=-1", code: domain.CodeInvalidSearchLimit, message: "parameter `limit`"},
		{target: "/indexes/movies/search?offset=x", code: domain.CodeInvalidSearchOffset, message: "parameter `offset`"},
		{target: "/indexes/movies/search?showRankingScore=maybe", code: domain.CodeBadRequest, message: "parameter `showRankingScore`"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			f := newRouterFixture(config.Config{}, readerFake{})
			res := serve(f.handler, http.MethodGet, tt.target, "")
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", res.Code)
			}
			body := decodeError(t, res)
			if body.Code != tt.code || !strings.Contains(body.Message, tt.message) {
				t.Fatalf("unexpected error body %+v", body)
			}
			if body.Type != domain.ErrorTypeInvalidRequest || body.Link != errorDocsURL+string(tt.code) {
				t.Fatalf("unexpected type/link %+v", body)
			}
		})
	}
}

func TestSearchMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   domain.ErrorCode
		kind   domain.ErrorType
	}{
		{
			name:   "invalid ratio",
			err:    domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidSemanticRatio, "bad ratio"),
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidSemanticRatio,
			kind:   domain.ErrorTypeInvalidRequest,
		},
		{
			name:   "embedding failure",
			err:    domain.NewCodedError(domain.ErrEmbedding, domain.CodeVectorEmbedding, "ollama refused"),
			status: http.StatusBadRequest,
			code:   domain.CodeVectorEmbedding,
			kind:   domain.ErrorTypeInvalidRequest,
		},
		{
			name:   "unknown index",
			err:    domain.NewCodedError(domain.ErrIndexNotFound, domain.CodeIndexNotFound, "Index `missing` not found."),
			status: http.StatusNotFound,
			code:   domain.CodeIndexNotFound,
			kind:   domain.ErrorTypeInvalidRequest,
		},
		{
			name:   "backend down",
			err:    domain.WrapError(domain.ErrTemporary, "lexical search", errors.New("connection refused")),
			status: http.StatusServiceUnavailable,
			code:   domain.CodeSearchUnavailable,
			kind:   domain.ErrorTypeSystem,
		},
		{
			name:   "unclassified",
			err:    errors.New("pq: secret detail"),
			status: http.StatusInternalServerError,
			code:   domain.CodeInternal,
			kind:   domain.ErrorTypeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(config.Config{}, readerFake{})
			f.search.err = tt.err

			res := serve(f.handler, http.MethodPost, "/indexes/movies/search", `{"q": "captain"}`)
			if res.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, res.Code)
			}
			body := decodeError(t, res)
			if body.Code != tt.code || body.Type != tt.kind {
				t.Fatalf("unexpected error body %+v", body)
			}
			if strings.Contains(body.Message, "secret") || strings.Contains(body.Message, "connection refused") {
				t.Fatalf("expected backend details to stay hidden, got %q", body.Message)
			}
		})
	}
}

func TestSearchPostRejectsMalformedBodies(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	res := serve(f.handler, http.MethodPost, "/indexes/movies/search", `{"q": "captain", "rankingRules": []}`)
	if res.Code != http.StatusBadRequest || decodeError(t, res).Code != domain.CodeBadRequest {
		t.Fatalf("expected bad_request for an unknown field, got %d", res.Code)
	}

	res = serve(f.handler, http.MethodPost, "/indexes/movies/search", "")
	if res.Code != http.StatusBadRequest || decodeError(t, res).Code != domain.CodeMissingPayload {
		t.Fatalf("expected missing_payload for an empty body, got %d", res.Code)
	}
}

func TestMultiSearchRoutesByFederation(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	res := serve(f.handler, http.MethodPost, "/multi-search", `{
		"federation": {"limit": 10},
		"queries": [
			{"indexUid": "movies", "q": "captain"},
			{"indexUid": "movies_fr", "q": "capitaine", "federationOptions": {"weight": 0.5}}
		]
	}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.federated.request.Queries) != 2 || f.federated.request.Queries[1].Weight() != 0.5 {
		t.Fatalf("unexpected federated request %+v", f.federated.request)
	}
	if *f.federated.request.Federation.Limit != 10 {
		t.Fatalf("expected federation limit to be passed through")
	}
	if !strings.Contains(res.Body.String(), `"_federation":{"indexUid":"movies_fr","queriesPosition":1,"weightedRankingScore":0.45}`) {
		t.Fatalf("expected _federation block in hits, got %s", res.Body.String())
	}

	res = serve(f.handler, http.MethodPost, "/multi-search", `{"queries": [{"indexUid": "movies"}, {"indexUid": "books"}]}`)
	if res.Code != http.StatusOK || !f.federated.multiCalled {
		t.Fatalf("expected per-query multi search, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"indexUid":"books"`) {
		t.Fatalf("expected one result per query, got %s", res.Body.String())
	}
}

func TestAddDocumentsReturnsTaskSummary(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	payload := `[{"id": 1, "title": "Shazam!"}, {"id": 2, "title": "Captain Planet"}]`
	res := serve(f.handler, http.MethodPost, "/indexes/movies/documents", payload)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if f.ingest.index != "movies" || string(f.ingest.body) != payload {
		t.Fatalf("expected the raw body to reach the ingestor")
	}

	var summary taskSummary
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.TaskUID != "task-1" || summary.Status != domain.TaskStatusEnqueued || summary.Type != domain.TaskTypeDocumentAddition {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestAddDocumentsMapsValidationAndSizeErrors(t *testing.T) {
	f := newRouterFixture(config.Config{APIMaxBodyBytes: 16}, readerFake{})

	res := serve(f.handler, http.MethodPost, "/indexes/movies/documents", `[{"id": 1, "title": "a long enough title"}]`)
	if res.Code != http.StatusRequestEntityTooLarge || decodeError(t, res).Code != domain.CodePayloadTooLarge {
		t.Fatalf("expected 413 payload_too_large, got %d", res.Code)
	}

	f = newRouterFixture(config.Config{}, readerFake{})
	f.ingest.err = domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidVectorsType, "Invalid value type at `._vectors`")
	res = serve(f.handler, http.MethodPost, "/indexes/movies/documents", `[{"id": 1, "_vectors": [1, 3]}]`)
	if res.Code != http.StatusBadRequest || decodeError(t, res).Code != domain.CodeInvalidVectorsType {
		t.Fatalf("expected 400 invalid_vectors_type, got %d", res.Code)
	}
}

func TestGetDocumentHidesVectorsUnlessRequested(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})

	res := serve(f.handler, http.MethodGet, "/indexes/movies/documents/7", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "_vectors") {
		t.Fatalf("expected no vectors by default, got %s", res.Body.String())
	}

	res = serve(f.handler, http.MethodGet, "/indexes/movies/documents/7?retrieveVectors=true", "")
	if !strings.Contains(res.Body.String(), `"_vectors":{"manual":{"embeddings":[[1,3]]`) {
		t.Fatalf("expected vectors in the response, got %s", res.Body.String())
	}
}

func TestReadEndpointsMapNotFound(t *testing.T) {
	tests := []struct {
		target string
		err    error
		code   domain.ErrorCode
	}{
		{target: "/indexes/movies/documents/missing", err: domain.NewCodedError(domain.ErrDocumentNotFound, domain.CodeDocumentNotFound, "Document `missing` not found."), code: domain.CodeDocumentNotFound},
		{target: "/indexes/missing/settings", err: domain.NewCodedError(domain.ErrIndexNotFound, domain.CodeIndexNotFound, "Index `missing` not found."), code: domain.CodeIndexNotFound},
		{target: "/tasks/unknown", err: domain.NewCodedError(domain.ErrTaskNotFound, domain.CodeTaskNotFound, "Task `unknown` not found."), code: domain.CodeTaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			f := newRouterFixture(config.Config{}, readerFake{err: tt.err})
			res := serve(f.handler, http.MethodGet, tt.target, "")
			if res.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", res.Code)
			}
			if body := decodeError(t, res); body.Code != tt.code {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
}

func TestMetricsEndpointReportsSearches(t *testing.T) {
	f := newRouterFixture(config.Config{}, readerFake{})
	serve(f.handler, http.MethodPost, "/indexes/movies/search", `{"q": "captain"}`)

	res := serve(f.handler, http.MethodGet, "/metrics", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `hybrid_search_requests_total{endpoint="search",mode="hybrid",service="api"} 1`) {
		t.Fatalf("expected search counter in metrics output")
	}
	if !strings.Contains(res.Body.String(), `path="/indexes/{uid}/search"`) {
		t.Fatalf("expected normalized request path label")
	}
}
