package ports

import (
	"context"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// SearchService is the inbound contract for single-index search.
type SearchService interface {
	Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error)
}

// FederatedSearchService merges several queries into one ranked page, or answers each
// query on its own when no federation is requested.
type FederatedSearchService interface {
	FederatedSearch(ctx context.Context, request domain.MultiSearchRequest) (*domain.FederatedSearchResult, error)
	MultiSearch(ctx context.Context, queries []domain.FederatedSearchQuery) (*domain.MultiSearchResult, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	AddDocuments(ctx context.Context, indexUID string, body []byte) (*domain.Task, error)
}

// TaskProcessor is the inbound contract for asynchronous indexing.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, taskUID string) error
}

type TaskReader interface {
	GetTask(ctx context.Context, uid string) (*domain.Task, error)
}

// DocumentReader is the inbound read model for stored documents and index settings.
type DocumentReader interface {
	GetDocument(ctx context.Context, indexUID, id string) (*domain.Document, error)
	GetSettings(ctx context.Context, indexUID string) (*domain.IndexSettings, error)
}
