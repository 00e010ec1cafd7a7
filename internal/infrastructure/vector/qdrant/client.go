package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
)

const payloadDocumentID = "doc_id"

var pointNamespace = uuid.MustParse("8f7a3c52-4a0e-4f53-9d6e-3b1f0c7d2e91")

// Client talks to the Qdrant REST API. Each (index, embedder) pair owns one collection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		ensured:    make(map[string]int),
	}
}

// CollectionName is the collection holding the vectors of one embedder of one index.
func CollectionName(indexUID, embedder string) string {
	return indexUID + "-" + embedder
}

// PointID derives a stable point id so re-indexing a document overwrites its points.
func PointID(indexUID, embedder, documentID string, ordinal int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%s/%s/%s/%d", indexUID, embedder, documentID, ordinal)).String()
}

// Search returns the nearest documents. A document with several vectors appears once, with
// its best score. A collection that does not exist yet yields an empty set.
func (c *Client) Search(ctx context.Context, indexUID, embedder string, vector []float32, topK int) (*domain.CandidateSet, error) {
	collection := CollectionName(indexUID, embedder)
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": []string{payloadDocumentID},
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := c.executor.Execute(ctx, "qdrant.search", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/search", reqBody, &searchResp, "search")
	}, resilience.ClassifyHTTP)
	if isNotFound(err) {
		return domain.NewCandidateSet(domain.OriginVector, 0), nil
	}
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant search", err, resilience.ClassifyHTTP)
	}

	out := domain.NewCandidateSet(domain.OriginVector, len(searchResp.Result))
	seen := make(map[string]struct{}, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, payloadDocumentID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.Add(domain.DocumentRef{Source: indexUID, ID: id}, r.Score)
	}
	return out, nil
}

// UpsertVectors replaces every point of the given documents with points.
func (c *Client) UpsertVectors(ctx context.Context, indexUID, embedder string, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	collection := CollectionName(indexUID, embedder)
	if err := c.ensureCollection(ctx, collection, len(points[0].Vector)); err != nil {
		return resilience.WrapTemporary("qdrant ensure collection", err, resilience.ClassifyHTTP)
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	body := make([]point, 0, len(points))
	docIDs := make([]string, 0, len(points))
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		body = append(body, point{
			ID:      PointID(indexUID, embedder, p.DocumentID, p.Ordinal),
			Vector:  p.Vector,
			Payload: map[string]any{payloadDocumentID: p.DocumentID, "ordinal": p.Ordinal},
		})
		if _, ok := seen[p.DocumentID]; !ok {
			seen[p.DocumentID] = struct{}{}
			docIDs = append(docIDs, p.DocumentID)
		}
	}

	deleteBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": payloadDocumentID, "match": map[string]any{"any": docIDs}},
			},
		},
	}
	err := c.executor.Execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		if err := c.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", deleteBody, nil, "delete"); err != nil {
			return err
		}
		return c.doJSON(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", map[string]any{"points": body}, nil, "upsert")
	}, resilience.ClassifyHTTP)
	return resilience.WrapTemporary("qdrant upsert", err, resilience.ClassifyHTTP)
}

func (c *Client) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	c.ensureMu.Lock()
	if size, ok := c.ensured[collection]; ok && size == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.executor.Execute(ctx, "qdrant.ensure_collection", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, "/collections/"+collection, reqBody, nil, "ensure collection")
	}, resilience.ClassifyHTTP)

	// 409 when the collection already exists.
	var statusErr *resilience.HTTPStatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return err
	}

	c.ensureMu.Lock()
	c.ensured[collection] = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Backend:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var statusErr *resilience.HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
