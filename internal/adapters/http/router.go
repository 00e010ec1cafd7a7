package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hyperdrive-eng/meilisearch/internal/config"
	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/core/ports"
	"github.com/hyperdrive-eng/meilisearch/internal/observability/metrics"
)

const serviceName = "api"

// Services groups the inbound use cases the router serves.
type Services struct {
	Search    ports.SearchService
	Federated ports.FederatedSearchService
	Ingest    ports.DocumentIngestor
	Documents ports.DocumentReader
	Tasks     ports.TaskReader
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics) *Router {
	if httpMetrics == nil {
		httpMetrics = metrics.NewHTTPServerMetrics(serviceName)
	}
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /indexes/{uid}/search", rt.searchPost)
	api.HandleFunc("GET /indexes/{uid}/search", rt.searchGet)
	api.HandleFunc("POST /multi-search", rt.multiSearch)
	api.HandleFunc("POST /indexes/{uid}/documents", rt.addDocuments)
	api.HandleFunc("GET /indexes/{uid}/documents/{id}", rt.getDocument)
	api.HandleFunc("GET /indexes/{uid}/settings", rt.getSettings)
	api.HandleFunc("GET /tasks/{uid}", rt.getTask)

	var limited http.Handler = api
	limited = maxBodyMiddleware(limited, rt.cfg.APIMaxBodyBytes)
	limited = backpressureMiddleware(limited, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait, rt.rejected)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.rejected)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", rt.health)
	root.Handle("GET /metrics", rt.metrics.Handler())
	root.Handle("/", limited)

	var handler http.Handler = root
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) rejected(reason string) {
	rt.metrics.RecordRejected(serviceName, reason)
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// readBody reads the whole request body, mapping a body over the size cap to payload_too_large.
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodePayloadTooLarge,
				"The provided payload reached the size limit. The maximum accepted payload size is %d bytes.", tooLarge.Limit)
		}
		return nil, domain.WrapError(domain.ErrInvalidInput, "read request body", err)
	}
	if len(raw) == 0 {
		return nil, domain.NewCodedError(domain.ErrInvalidInput, domain.CodeMissingPayload,
			"A json payload is missing.")
	}
	return raw, nil
}

// decodeJSONBody decodes a request body strictly: unknown fields are rejected.
func decodeJSONBody(r *http.Request, target any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return domain.NewCodedError(domain.ErrInvalidInput, domain.CodeBadRequest,
			"Invalid JSON request body: %s.", err)
	}
	return nil
}
