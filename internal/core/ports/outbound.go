package ports

import (
	"context"
	"io"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// LexicalSearcher returns keyword candidates scored as the share of query terms matched, in [0,1].
// A query without terms lists the index in insertion order with score 1.0.
type LexicalSearcher interface {
	Search(ctx context.Context, query domain.LexicalQuery) (*domain.CandidateSet, error)
}

// VectorSearcher returns nearest neighbours with their raw similarity scores.
type VectorSearcher interface {
	Search(ctx context.Context, indexUID, embedder string, vector []float32, topK int) (*domain.CandidateSet, error)
}

// Embedder builds vectors for document texts and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedderRegistry resolves the embedder configured under name for an index.
type EmbedderRegistry interface {
	Embedder(indexUID, name string) (Embedder, error)
}

// AttributeLookup batch-reads distinct attribute values. Documents with an absent or null
// value are missing from the returned map.
type AttributeLookup interface {
	DistinctValues(ctx context.Context, indexUID, attribute string, ids []string) (map[string]domain.DistinctKey, error)
}

// DocumentStore persists documents and their searchable terms.
type DocumentStore interface {
	SaveDocuments(ctx context.Context, indexUID string, docs []domain.Document) error
	GetDocuments(ctx context.Context, indexUID string, ids []string) (map[string]domain.Document, error)
	GetDocument(ctx context.Context, indexUID, id string) (*domain.Document, error)
	FieldNames(ctx context.Context, indexUID string) ([]string, error)
}

// VectorIndexer writes document vectors into the vector backend.
type VectorIndexer interface {
	UpsertVectors(ctx context.Context, indexUID, embedder string, points []domain.VectorPoint) error
}

// TaskStore persists indexing tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, uid string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
}

// PayloadStorage stores raw document payloads between enqueue and indexing.
type PayloadStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TaskQueue publishes/consumes enqueued task uids.
type TaskQueue interface {
	PublishTaskEnqueued(ctx context.Context, taskUID string) error
	SubscribeTaskEnqueued(ctx context.Context, handler func(context.Context, string) error) error
}

// SettingsProvider exposes the configured index settings.
type SettingsProvider interface {
	IndexSettings(indexUID string) (domain.IndexSettings, bool)
	// DistinctScope names the distinct scope shared by indexUID, or "" when it shares none.
	DistinctScope(indexUID string) string
}
