package qdrantgrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
	qdrantrest "github.com/hyperdrive-eng/meilisearch/internal/infrastructure/vector/qdrant"
)

const payloadDocumentID = "doc_id"

// pointsAPI is the part of *qdrant.Client this adapter uses.
type pointsAPI interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
}

// Client is the gRPC flavour of the vector source. It shares collection names and point
// ids with the REST client, so both can serve the same Qdrant deployment.
type Client struct {
	api      pointsAPI
	closer   func() error
	executor *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]bool
}

func New(host string, port int, executor *resilience.Executor) (*Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant grpc client: %w", err)
	}
	c := newClient(client, executor)
	c.closer = client.Close
	return c, nil
}

func newClient(api pointsAPI, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		api:      api,
		closer:   func() error { return nil },
		executor: executor,
		ensured:  make(map[string]bool),
	}
}

func (c *Client) Close() error {
	return c.closer()
}

func (c *Client) Search(ctx context.Context, indexUID, embedder string, vector []float32, topK int) (*domain.CandidateSet, error) {
	limit := uint64(topK)
	request := &qdrant.QueryPoints{
		CollectionName: qdrantrest.CollectionName(indexUID, embedder),
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadDocumentID),
	}

	points, err := resilience.Call(ctx, c.executor, "qdrant.grpc.query", func(ctx context.Context) ([]*qdrant.ScoredPoint, error) {
		return c.api.Query(ctx, request)
	}, classifyGRPC)
	if status.Code(err) == codes.NotFound {
		return domain.NewCandidateSet(domain.OriginVector, 0), nil
	}
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant query", err, classifyGRPC)
	}

	out := domain.NewCandidateSet(domain.OriginVector, len(points))
	seen := make(map[string]struct{}, len(points))
	for _, point := range points {
		id := point.GetPayload()[payloadDocumentID].GetStringValue()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.Add(domain.DocumentRef{Source: indexUID, ID: id}, float64(point.GetScore()))
	}
	return out, nil
}

func (c *Client) UpsertVectors(ctx context.Context, indexUID, embedder string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	collection := qdrantrest.CollectionName(indexUID, embedder)
	if err := c.ensureCollection(ctx, collection, len(points[0].Vector)); err != nil {
		return resilience.WrapTemporary("qdrant ensure collection", err, classifyGRPC)
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	docIDs := make([]string, 0, len(points))
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(qdrantrest.PointID(indexUID, embedder, p.DocumentID, p.Ordinal)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: p.DocumentID,
				"ordinal":         int64(p.Ordinal),
			}),
		})
		if _, ok := seen[p.DocumentID]; !ok {
			seen[p.DocumentID] = struct{}{}
			docIDs = append(docIDs, p.DocumentID)
		}
	}

	wait := true
	err := c.executor.Execute(ctx, "qdrant.grpc.upsert", func(ctx context.Context) error {
		_, err := c.api.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           &wait,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatchKeywords(payloadDocumentID, docIDs...)},
			}),
		})
		if err != nil {
			return err
		}
		_, err = c.api.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         structs,
		})
		return err
	}, classifyGRPC)
	return resilience.WrapTemporary("qdrant upsert", err, classifyGRPC)
}

func (c *Client) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensured[collection] {
		return nil
	}

	exists, err := c.api.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if !exists {
		err = c.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
	}
	c.ensured[collection] = true
	return nil
}

func classifyGRPC(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition:
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}
