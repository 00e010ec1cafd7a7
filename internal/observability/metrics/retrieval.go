package metrics

import (
	"context"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
)

const (
	SourceLexical = "lexical"
	SourceVector  = "vector"
	SourceEmbed   = "embed"
)

type retrievalRecorder interface {
	RecordRetrieval(service, source string, duration time.Duration, err error)
}

// LexicalSearcher times every call of the wrapped keyword source.
type LexicalSearcher struct {
	next     ports.LexicalSearcher
	recorder retrievalRecorder
	service  string
}

func InstrumentLexical(next ports.LexicalSearcher, recorder retrievalRecorder, service string) *LexicalSearcher {
	return &LexicalSearcher{next: next, recorder: recorder, service: service}
}

func (s *LexicalSearcher) Search(ctx context.Context, query domain.LexicalQuery) (*domain.CandidateSet, error) {
	start := time.Now()
	set, err := s.next.Search(ctx, query)
	s.recorder.RecordRetrieval(s.service, SourceLexical, time.Since(start), err)
	return set, err
}

// VectorSearcher times every call of the wrapped vector source.
type VectorSearcher struct {
	next     ports.VectorSearcher
	recorder retrievalRecorder
	service  string
}

func InstrumentVector(next ports.VectorSearcher, recorder retrievalRecorder, service string) *VectorSearcher {
	return &VectorSearcher{next: next, recorder: recorder, service: service}
}

func (s *VectorSearcher) Search(ctx context.Context, indexUID, embedder string, vector []float32, topK int) (*domain.CandidateSet, error) {
	start := time.Now()
	set, err := s.next.Search(ctx, indexUID, embedder, vector, topK)
	s.recorder.RecordRetrieval(s.service, SourceVector, time.Since(start), err)
	return set, err
}

// EmbedderRegistry wraps resolved embedders so query embedding latency is recorded too.
type EmbedderRegistry struct {
	next     ports.EmbedderRegistry
	recorder retrievalRecorder
	service  string
}

func InstrumentEmbedders(next ports.EmbedderRegistry, recorder retrievalRecorder, service string) *EmbedderRegistry {
	return &EmbedderRegistry{next: next, recorder: recorder, service: service}
}

func (r *EmbedderRegistry) Embedder(indexUID, name string) (ports.Embedder, error) {
	embedder, err := r.next.Embedder(indexUID, name)
	if err != nil {
		return nil, err
	}
	return &timedEmbedder{next: embedder, recorder: r.recorder, service: r.service}, nil
}

type timedEmbedder struct {
	next     ports.Embedder
	recorder retrievalRecorder
	service  string
}

func (e *timedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.next.Embed(ctx, texts)
}

func (e *timedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := e.next.EmbedQuery(ctx, text)
	e.recorder.RecordRetrieval(e.service, SourceEmbed, time.Since(start), err)
	return vector, err
}
