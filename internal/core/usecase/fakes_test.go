package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

type settingsFake struct {
	indexes map[string]domain.IndexSettings
	scopes  map[string]string
}

func (f *settingsFake) IndexSettings(indexUID string) (domain.IndexSettings, bool) {
	settings, ok := f.indexes[indexUID]
	return settings, ok
}

func (f *settingsFake) DistinctScope(indexUID string) string {
	return f.scopes[indexUID]
}

type lexicalFake struct {
	mu      sync.Mutex
	sets    map[string][]domain.ScoredCandidate
	err     error
	block   bool
	queries []domain.LexicalQuery
}

func (f *lexicalFake) Search(ctx context.Context, query domain.LexicalQuery) (*domain.CandidateSet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	set := domain.NewCandidateSet(domain.OriginLexical, len(f.sets[query.IndexUID]))
	for _, c := range f.sets[query.IndexUID] {
		score := c.RawScore
		if len(query.Terms) == 0 {
			score = 1.0
		}
		set.Add(c.Ref, score)
	}
	return set, nil
}

func (f *lexicalFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type vectorSearchFake struct {
	mu      sync.Mutex
	sets    map[string][]domain.ScoredCandidate
	err     error
	block   bool
	vectors [][]float32
}

func (f *vectorSearchFake) Search(ctx context.Context, indexUID, _ string, vector []float32, _ int) (*domain.CandidateSet, error) {
	f.mu.Lock()
	f.vectors = append(f.vectors, vector)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	set := domain.NewCandidateSet(domain.OriginVector, len(f.sets[indexUID]))
	for _, c := range f.sets[indexUID] {
		set.Add(c.Ref, c.RawScore)
	}
	return set, nil
}

func (f *vectorSearchFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

type embedderFake struct {
	vector  []float32
	vectors [][]float32
	err     error
	texts   []string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type registryFake struct {
	embedder ports.Embedder
	err      error
}

func (f *registryFake) Embedder(string, string) (ports.Embedder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedder, nil
}

type lookupFake struct {
	keys map[string]map[string]domain.DistinctKey
	err  error
}

func (f *lookupFake) DistinctValues(_ context.Context, indexUID, _ string, ids []string) (map[string]domain.DistinctKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.DistinctKey, len(ids))
	for _, id := range ids {
		if key, ok := f.keys[indexUID][id]; ok {
			out[id] = key
		}
	}
	return out, nil
}

type documentStoreFake struct {
	docs    map[string]map[string]domain.Document
	fields  map[string][]string
	saved   []domain.Document
	saveErr error
}

func (f *documentStoreFake) SaveDocuments(_ context.Context, _ string, docs []domain.Document) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, docs...)
	return nil
}

func (f *documentStoreFake) GetDocuments(_ context.Context, indexUID string, ids []string) (map[string]domain.Document, error) {
	out := make(map[string]domain.Document, len(ids))
	for _, id := range ids {
		if doc, ok := f.docs[indexUID][id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func (f *documentStoreFake) GetDocument(_ context.Context, indexUID, id string) (*domain.Document, error) {
	doc, ok := f.docs[indexUID][id]
	if !ok {
		return nil, domain.NewCodedError(domain.ErrDocumentNotFound, domain.CodeDocumentNotFound, "Document `%s` not found.", id)
	}
	return &doc, nil
}

func (f *documentStoreFake) FieldNames(_ context.Context, indexUID string) ([]string, error) {
	return f.fields[indexUID], nil
}

type taskStoreFake struct {
	tasks     map[string]domain.Task
	history   []domain.Task
	createErr error
	updateErr error
}

func newTaskStoreFake() *taskStoreFake {
	return &taskStoreFake{tasks: map[string]domain.Task{}}
}

func (f *taskStoreFake) CreateTask(_ context.Context, task *domain.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tasks[task.UID] = *task
	return nil
}

func (f *taskStoreFake) GetTask(_ context.Context, uid string) (*domain.Task, error) {
	task, ok := f.tasks[uid]
	if !ok {
		return nil, domain.NewCodedError(domain.ErrTaskNotFound, domain.CodeTaskNotFound, "Task `%s` not found.", uid)
	}
	return &task, nil
}

func (f *taskStoreFake) UpdateTask(_ context.Context, task *domain.Task) error {
	f.history = append(f.history, *task)
	if f.updateErr != nil {
		return f.updateErr
	}
	f.tasks[task.UID] = *task
	return nil
}

type payloadStorageFake struct {
	payloads map[string][]byte
	err      error
}

func (f *payloadStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.payloads == nil {
		f.payloads = map[string][]byte{}
	}
	f.payloads[key] = raw
	return nil
}

func (f *payloadStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.payloads[key]
	if !ok {
		return nil, errors.New("payload not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type taskQueueFake struct {
	published []string
	err       error
}

func (f *taskQueueFake) PublishTaskEnqueued(_ context.Context, taskUID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, taskUID)
	return nil
}

func (f *taskQueueFake) SubscribeTaskEnqueued(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type vectorIndexerFake struct {
	points map[string][]domain.VectorPoint
	err    error
}

func (f *vectorIndexerFake) UpsertVectors(_ context.Context, _ string, embedder string, points []domain.VectorPoint) error {
	if f.err != nil {
		return f.err
	}
	if f.points == nil {
		f.points = map[string][]domain.VectorPoint{}
	}
	f.points[embedder] = append(f.points[embedder], points...)
	return nil
}

func candidate(index, id string, score float64) domain.ScoredCandidate {
	return domain.ScoredCandidate{Ref: domain.DocumentRef{Source: index, ID: id}, RawScore: score}
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
