package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperdrive-eng/meilisearch/internal/config"
	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
	"github.com/hyperdrive-eng/meilisearch/internal/core/usecase"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/embedder/ollama"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/queue/nats"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/repository/postgres"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/storage/localfs"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/vector/qdrant"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/vector/qdrantgrpc"
	"github.com/hyperdrive-eng/meilisearch/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Indexes *config.IndexCatalog

	Queue       ports.TaskQueue
	HTTPMetrics *metrics.HTTPServerMetrics

	SearchUC    *usecase.SearchUseCase
	FederatedUC *usecase.FederatedSearchUseCase
	IngestUC    *usecase.IngestDocumentsUseCase
	ProcessUC   *usecase.IndexDocumentsUseCase
	ReadUC      *usecase.ReadUseCase

	closers []func()
}

// vectorBackend is implemented by both the REST and the gRPC Qdrant clients.
type vectorBackend interface {
	ports.VectorSearcher
	ports.VectorIndexer
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	indexes, err := config.LoadIndexes(cfg.IndexesConfigPath)
	if err != nil {
		return fmt.Errorf("load index settings: %w", err)
	}
	a.Indexes = indexes
	slog.Info("index_settings_loaded", "indexes", strings.Join(indexes.UIDs(), ","))

	// Search gets its own executor: it retries a failed source once and keeps separate breakers.
	indexExecutor := resilience.NewExecutor(resilienceConfig(cfg, cfg.ResilienceRetryMaxAttempts))
	searchExecutor := resilience.NewExecutor(resilienceConfig(cfg, cfg.SearchRetryMaxAttempts))

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init payload storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: indexExecutor,
	})
	if err != nil {
		return fmt.Errorf("init task queue: %w", err)
	}
	a.closers = append(a.closers, queue.Close)
	a.Queue = queue

	searchVectors, err := a.newVectorBackend(cfg, searchExecutor)
	if err != nil {
		return err
	}
	indexVectors, err := a.newVectorBackend(cfg, indexExecutor)
	if err != nil {
		return err
	}

	a.HTTPMetrics = metrics.NewHTTPServerMetrics("api")

	searchEmbedders := embedder.NewRegistry(indexes, ollama.New(cfg.OllamaURL, cfg.OllamaTimeout, searchExecutor))
	indexEmbedders := embedder.NewRegistry(indexes, ollama.New(cfg.OllamaURL, cfg.OllamaTimeout, indexExecutor))

	searchDocs := postgres.NewDocumentRepository(db, searchExecutor)
	indexDocs := postgres.NewDocumentRepository(db, indexExecutor)
	tasks := postgres.NewTaskRepository(db, indexExecutor)

	a.SearchUC = usecase.NewSearchUseCase(
		indexes,
		metrics.InstrumentLexical(postgres.NewLexicalSearcher(db, searchExecutor), a.HTTPMetrics, "api"),
		metrics.InstrumentVector(searchVectors, a.HTTPMetrics, "api"),
		metrics.InstrumentEmbedders(searchEmbedders, a.HTTPMetrics, "api"),
		searchDocs,
		searchDocs,
		domain.SearchLimits{
			Timeout:             cfg.SearchTimeout,
			CandidateMultiplier: cfg.SearchCandidateMultiplier,
			MaxCandidates:       cfg.SearchMaxCandidates,
		},
	)
	a.FederatedUC = usecase.NewFederatedSearchUseCase(a.SearchUC)
	a.IngestUC = usecase.NewIngestDocumentsUseCase(indexes, tasks, storage, queue)
	a.ProcessUC = usecase.NewIndexDocumentsUseCase(indexes, tasks, storage, indexDocs, indexVectors, indexEmbedders)
	a.ReadUC = usecase.NewReadUseCase(indexes, searchDocs, tasks)

	return nil
}

func (a *App) newVectorBackend(cfg config.Config, executor *resilience.Executor) (vectorBackend, error) {
	switch strings.ToLower(cfg.QdrantTransport) {
	case "grpc":
		client, err := qdrantgrpc.New(cfg.QdrantGRPCHost, cfg.QdrantGRPCPort, executor)
		if err != nil {
			return nil, fmt.Errorf("init qdrant grpc client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client, nil
	case "", "rest":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantTimeout, executor), nil
	default:
		return nil, fmt.Errorf("unknown qdrant transport %q", cfg.QdrantTransport)
	}
}

func resilienceConfig(cfg config.Config, attempts int) resilience.Config {
	out := resilience.DefaultConfig().WithMaxAttempts(attempts)
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
