package usecase

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

type IngestDocumentsUseCase struct {
	settings ports.SettingsProvider
	tasks    ports.TaskStore
	storage  ports.PayloadStorage
	queue    ports.TaskQueue
}

func NewIngestDocumentsUseCase(
	settings ports.SettingsProvider,
	tasks ports.TaskStore,
	storage ports.PayloadStorage,
	queue ports.TaskQueue,
) *IngestDocumentsUseCase {
	return &IngestDocumentsUseCase{
		settings: settings,
		tasks:    tasks,
		storage:  storage,
		queue:    queue,
	}
}

// AddDocuments validates a document batch, stores it and enqueues an indexing task.
// Malformed documents are rejected here so they never reach the worker.
func (uc *IngestDocumentsUseCase) AddDocuments(ctx context.Context, indexUID string, body []byte) (*domain.Task, error) {
	settings, ok := uc.settings.IndexSettings(indexUID)
	if !ok {
		return nil, indexNotFound(indexUID)
	}

	docs, err := domain.ParseDocuments(indexUID, settings.PrimaryKey, body)
	if err != nil {
		return nil, err
	}
	if err := validateDocumentVectors(settings, docs); err != nil {
		return nil, err
	}

	taskUID := uuid.NewString()
	payloadKey := fmt.Sprintf("%s_%s.json", indexUID, taskUID)
	if err := uc.storage.Save(ctx, payloadKey, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("save payload: %w", err)
	}

	task := &domain.Task{
		UID:               taskUID,
		IndexUID:          indexUID,
		Type:              domain.TaskTypeDocumentAddition,
		Status:            domain.TaskStatusEnqueued,
		PayloadKey:        payloadKey,
		ReceivedDocuments: len(docs),
		EnqueuedAt:        time.Now().UTC(),
	}
	if err := uc.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := uc.queue.PublishTaskEnqueued(ctx, task.UID); err != nil {
		return nil, fmt.Errorf("publish task: %w", err)
	}

	return task, nil
}

func validateDocumentVectors(settings domain.IndexSettings, docs []domain.Document) error {
	for _, doc := range docs {
		for name, embeddings := range doc.Vectors {
			embedder, ok := settings.Embedder(name)
			if !ok {
				return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidVectorsType,
					"Invalid value at `._vectors.%s` in the document with id: `%s`: embedder `%s` is not configured on index `%s`.",
					name, doc.ID, name, settings.UID)
			}
			if embedder.Dimensions <= 0 {
				continue
			}
			for _, embedding := range embeddings {
				if len(embedding) != embedder.Dimensions {
					return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeInvalidVectorDimensions,
						"Invalid vector dimensions in document with id `%s` for embedder `%s`: expected: `%d`, found: `%d`.",
						doc.ID, name, embedder.Dimensions, len(embedding))
				}
			}
		}
	}
	return nil
}
