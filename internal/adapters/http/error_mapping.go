package httpadapter

import (
	"net/http"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

const errorDocsURL = "https://docs.meilisearch.com/errors#"

type errorResponse struct {
	Message string           `json:"message"`
	Code    domain.ErrorCode `json:"code"`
	Type    domain.ErrorType `json:"type"`
	Link    string           `json:"link"`
}

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.CodeOf(err) == domain.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrEmbedding):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrIndexNotFound),
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) errorResponse {
	code := domain.CodeOf(err)
	return errorResponse{
		Message: domain.MessageOf(err),
		Code:    code,
		Type:    domain.TypeOf(err),
		Link:    errorDocsURL + string(code),
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r).Error("request_failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, newErrorResponse(err))
}
