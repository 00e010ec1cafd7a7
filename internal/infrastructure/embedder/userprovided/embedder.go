package userprovided

import (
	"context"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

// Embedder stands in for an embedder whose vectors always come with the request or the
// document. It cannot turn text into a vector.
type Embedder struct {
	name string
}

func New(name string) *Embedder {
	return &Embedder{name: name}
}

func (e *Embedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, e.missingVector()
}

func (e *Embedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, e.missingVector()
}

func (e *Embedder) missingVector() error {
	return domain.NewCodedError(domain.ErrEmbedding, domain.CodeVectorEmbedding,
		"Error while generating embeddings: user error: attempt to embed the following text in a configuration where embeddings must be user provided. Embedder `%s` requires a vector.", e.name)
}
