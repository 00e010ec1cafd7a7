package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder/ollama"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder/userprovided"
)

type staticSettings map[string]domain.IndexSettings

func (s staticSettings) IndexSettings(uid string) (domain.IndexSettings, bool) {
	index, ok := s[uid]
	return index, ok
}

func (s staticSettings) DistinctScope(string) string { return "" }

func newTestRegistry() *Registry {
	settings := staticSettings{
		"movies": {
			UID: "movies",
			Embedders: map[string]domain.EmbedderSettings{
				"default": {Source: domain.EmbedderSourceOllama, Model: "nomic-embed-text", Dimensions: 768},
				"manual":  {Source: domain.EmbedderSourceUserProvided, Dimensions: 3},
			},
		},
	}
	return NewRegistry(settings, ollama.New("http://localhost:11434", time.Second, nil))
}

func TestRegistryBuildsBySource(t *testing.T) {
	registry := newTestRegistry()

	got, err := registry.Embedder("movies", "default")
	if err != nil {
		t.Fatalf("Embedder() error = %v", err)
	}
	if _, ok := got.(*ollama.Embedder); !ok {
		t.Fatalf("expected ollama embedder, got %T", got)
	}
	again, _ := registry.Embedder("movies", "default")
	if again != got {
		t.Fatalf("expected cached embedder")
	}

	manual, err := registry.Embedder("movies", "manual")
	if err != nil {
		t.Fatalf("Embedder() error = %v", err)
	}
	if _, ok := manual.(*userprovided.Embedder); !ok {
		t.Fatalf("expected userProvided embedder, got %T", manual)
	}
	if _, err := manual.EmbedQuery(context.Background(), "x"); !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected embedding error, got %v", err)
	}
}

func TestRegistryUnknownEmbedderAndIndex(t *testing.T) {
	registry := newTestRegistry()

	if _, err := registry.Embedder("movies", "nope"); domain.CodeOf(err) != domain.CodeInvalidEmbedder {
		t.Fatalf("expected invalid_search_embedder, got %v", err)
	}
	if _, err := registry.Embedder("missing", "default"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected index not found, got %v", err)
	}
}
