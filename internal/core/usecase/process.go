package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

type IndexDocumentsUseCase struct {
	settings  ports.SettingsProvider
	tasks     ports.TaskStore
	storage   ports.PayloadStorage
	documents ports.DocumentStore
	vectors   ports.VectorIndexer
	embedders ports.EmbedderRegistry
}

func NewIndexDocumentsUseCase(
	settings ports.SettingsProvider,
	tasks ports.TaskStore,
	storage ports.PayloadStorage,
	documents ports.DocumentStore,
	vectors ports.VectorIndexer,
	embedders ports.EmbedderRegistry,
) *IndexDocumentsUseCase {
	return &IndexDocumentsUseCase{
		settings:  settings,
		tasks:     tasks,
		storage:   storage,
		documents: documents,
		vectors:   vectors,
		embedders: embedders,
	}
}

// ProcessTask indexes the payload of an enqueued task. Finished tasks are skipped so that
// redelivered messages are harmless.
func (uc *IndexDocumentsUseCase) ProcessTask(ctx context.Context, taskUID string) error {
	task, err := uc.tasks.GetTask(ctx, taskUID)
	if err != nil {
		return fmt.Errorf("fetch task: %w", err)
	}
	if task.Status == domain.TaskStatusSucceeded || task.Status == domain.TaskStatusFailed {
		return nil
	}

	started := time.Now().UTC()
	task.Status = domain.TaskStatusProcessing
	task.StartedAt = &started
	if err := uc.tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	indexed, err := uc.processPipeline(ctx, task)
	if err != nil {
		if failErr := uc.markFailed(ctx, task, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	finished := time.Now().UTC()
	task.Status = domain.TaskStatusSucceeded
	task.IndexedDocuments = indexed
	task.FinishedAt = &finished
	if err := uc.tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("set status=succeeded: %w", err)
	}
	return nil
}

func (uc *IndexDocumentsUseCase) processPipeline(ctx context.Context, task *domain.Task) (int, error) {
	settings, ok := uc.settings.IndexSettings(task.IndexUID)
	if !ok {
		return 0, indexNotFound(task.IndexUID)
	}

	docs, err := uc.loadDocuments(ctx, task, settings)
	if err != nil {
		return 0, err
	}

	points, err := uc.embed(ctx, settings, docs)
	if err != nil {
		return 0, err
	}

	if err := uc.documents.SaveDocuments(ctx, task.IndexUID, docs); err != nil {
		return 0, fmt.Errorf("save documents: %w", err)
	}

	names := make([]string, 0, len(points))
	for name := range points {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := uc.vectors.UpsertVectors(ctx, task.IndexUID, name, points[name]); err != nil {
			return 0, fmt.Errorf("upsert vectors of embedder %s: %w", name, err)
		}
	}

	return len(docs), nil
}

func (uc *IndexDocumentsUseCase) loadDocuments(ctx context.Context, task *domain.Task, settings domain.IndexSettings) ([]domain.Document, error) {
	reader, err := uc.storage.Open(ctx, task.PayloadKey)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	docs, err := domain.ParseDocuments(task.IndexUID, settings.PrimaryKey, body)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load payload", errors.New("payload holds no documents"))
	}
	return docs, nil
}

// embed collects the points of every embedder. Supplied vectors win; text embedders fill the
// gaps; user-provided embedders without a vector are skipped.
func (uc *IndexDocumentsUseCase) embed(ctx context.Context, settings domain.IndexSettings, docs []domain.Document) (map[string][]domain.VectorPoint, error) {
	points := make(map[string][]domain.VectorPoint, len(settings.Embedders))
	for name, cfg := range settings.Embedders {
		var pending []int
		var texts []string
		for i, doc := range docs {
			if supplied := doc.Vectors[name]; len(supplied) > 0 {
				for ordinal, vector := range supplied {
					points[name] = append(points[name], domain.VectorPoint{DocumentID: doc.ID, Ordinal: ordinal, Vector: vector})
				}
				continue
			}
			if !cfg.EmbedsText() {
				continue
			}
			pending = append(pending, i)
			texts = append(texts, documentText(doc, cfg.DocumentTemplate, settings.SearchableAttributes))
		}
		if len(pending) == 0 {
			continue
		}

		embedder, err := uc.embedders.Embedder(settings.UID, name)
		if err != nil {
			return nil, fmt.Errorf("resolve embedder %s: %w", name, err)
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed documents with %s: %w", name, err)
		}
		if len(vectors) != len(pending) {
			return nil, domain.WrapError(
				domain.ErrEmbedding,
				"embed documents",
				fmt.Errorf("vectors/documents mismatch: %d/%d", len(vectors), len(pending)),
			)
		}
		for i, docIndex := range pending {
			if cfg.Dimensions > 0 && len(vectors[i]) != cfg.Dimensions {
				return nil, domain.NewCodedError(domain.ErrEmbedding, domain.CodeVectorEmbedding,
					"Error while generating embeddings: embedder `%s` returned %d dimensions, expected %d.",
					name, len(vectors[i]), cfg.Dimensions)
			}
			doc := &docs[docIndex]
			points[name] = append(points[name], domain.VectorPoint{DocumentID: doc.ID, Vector: vectors[i]})
			if doc.Vectors == nil {
				doc.Vectors = map[string][][]float32{}
			}
			doc.Vectors[name] = [][]float32{vectors[i]}
		}
	}
	return points, nil
}

// documentText renders the fields an embedder sees. Without a template, the searchable
// attributes are used, or every field in name order when those are a wildcard.
func documentText(doc domain.Document, template, searchable []string) string {
	fields := template
	if len(fields) == 0 {
		fields = searchable
	}
	if len(fields) == 0 || containsWildcard(fields) {
		fields = make([]string, 0, len(doc.Fields))
		for name := range doc.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)
	}

	parts := make([]string, 0, len(fields))
	for _, name := range fields {
		value, ok := doc.Fields[name]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s: %s", name, v))
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", name, raw))
		}
	}
	return strings.Join(parts, "\n")
}

func (uc *IndexDocumentsUseCase) markFailed(ctx context.Context, task *domain.Task, processErr error) error {
	if processErr == nil {
		return nil
	}
	finished := time.Now().UTC()
	task.Status = domain.TaskStatusFailed
	task.Error = domain.NewTaskError(processErr)
	task.FinishedAt = &finished
	return uc.tasks.UpdateTask(ctx, task)
}
