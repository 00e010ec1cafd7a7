package usecase

import (
	"context"
	"fmt"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

// ReadUseCase serves stored documents, index settings and task state.
type ReadUseCase struct {
	settings  ports.SettingsProvider
	documents ports.DocumentStore
	tasks     ports.TaskStore
}

func NewReadUseCase(settings ports.SettingsProvider, documents ports.DocumentStore, tasks ports.TaskStore) *ReadUseCase {
	return &ReadUseCase{
		settings:  settings,
		documents: documents,
		tasks:     tasks,
	}
}

func (uc *ReadUseCase) GetDocument(ctx context.Context, indexUID, id string) (*domain.Document, error) {
	if _, ok := uc.settings.IndexSettings(indexUID); !ok {
		return nil, indexNotFound(indexUID)
	}
	doc, err := uc.documents.GetDocument(ctx, indexUID, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (uc *ReadUseCase) GetSettings(_ context.Context, indexUID string) (*domain.IndexSettings, error) {
	settings, ok := uc.settings.IndexSettings(indexUID)
	if !ok {
		return nil, indexNotFound(indexUID)
	}
	return &settings, nil
}

func (uc *ReadUseCase) GetTask(ctx context.Context, uid string) (*domain.Task, error) {
	task, err := uc.tasks.GetTask(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func indexNotFound(indexUID string) error {
	return domain.NewCodedError(domain.ErrIndexNotFound, domain.CodeIndexNotFound, "Index `%s` not found.", indexUID)
}
