package embedder

import (
	"fmt"
	"sync"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder/ollama"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder/userprovided"
)

// Registry builds embedders lazily from the index settings and caches them per index and name.
type Registry struct {
	settings ports.SettingsProvider
	ollama   *ollama.Client

	mu    sync.Mutex
	cache map[string]ports.Embedder
}

func NewRegistry(settings ports.SettingsProvider, ollamaClient *ollama.Client) *Registry {
	return &Registry{
		settings: settings,
		ollama:   ollamaClient,
		cache:    make(map[string]ports.Embedder),
	}
}

func (r *Registry) Embedder(indexUID, name string) (ports.Embedder, error) {
	index, ok := r.settings.IndexSettings(indexUID)
	if !ok {
		return nil, domain.NewCodedError(domain.ErrIndexNotFound, domain.CodeIndexNotFound, "Index `%s` not found.", indexUID)
	}
	cfg, ok := index.Embedder(name)
	if !ok {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidEmbedder,
			"Cannot find embedder with name `%s`.", name)
	}

	key := indexUID + "\x00" + name
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	var built ports.Embedder
	switch cfg.Source {
	case domain.EmbedderSourceUserProvided:
		built = userprovided.New(name)
	case domain.EmbedderSourceOllama:
		if r.ollama == nil {
			return nil, fmt.Errorf("embedder %s: ollama client is not configured", name)
		}
		built = ollama.NewEmbedder(r.ollama, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("embedder %s: unknown source %q", name, cfg.Source)
	}
	r.cache[key] = built
	return built, nil
}
