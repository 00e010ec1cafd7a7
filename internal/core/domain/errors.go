package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmbedding        = errors.New("embedding failure")
	ErrIndexNotFound    = errors.New("index not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorCode is the stable, client-facing identifier of a failure.
type ErrorCode string

const (
	CodeInvalidSemanticRatio        ErrorCode = "invalid_search_semantic_ratio"
	CodeMissingHybrid               ErrorCode = "missing_search_hybrid"
	CodeInvalidEmbedder             ErrorCode = "invalid_search_embedder"
	CodeInvalidVectorDimensions     ErrorCode = "invalid_vector_dimensions"
	CodeVectorEmbedding             ErrorCode = "vector_embedding_error"
	CodeInvalidVectorsType          ErrorCode = "invalid_vectors_type"
	CodeInvalidSearchLimit          ErrorCode = "invalid_search_limit"
	CodeInvalidSearchOffset         ErrorCode = "invalid_search_offset"
	CodeInvalidAttributesToSearchOn ErrorCode = "invalid_search_attributes_to_search_on"
	CodeInvalidDistinct             ErrorCode = "invalid_search_distinct"
	CodeInvalidFederation           ErrorCode = "invalid_multi_search_federation"
	CodeInvalidFederationWeight     ErrorCode = "invalid_multi_search_weight"
	CodeInvalidQueryPagination      ErrorCode = "invalid_multi_search_query_pagination"
	CodeMalformedPayload            ErrorCode = "malformed_payload"
	CodeMissingPayload              ErrorCode = "missing_payload"
	CodePayloadTooLarge             ErrorCode = "payload_too_large"
	CodeMissingDocumentID           ErrorCode = "missing_document_id"
	CodeInvalidDocumentID           ErrorCode = "invalid_document_id"
	CodeBadRequest                  ErrorCode = "bad_request"
	CodeIndexNotFound               ErrorCode = "index_not_found"
	CodeDocumentNotFound            ErrorCode = "document_not_found"
	CodeTaskNotFound                ErrorCode = "task_not_found"
	CodeTooManyRequests             ErrorCode = "too_many_search_requests"
	CodeSearchUnavailable           ErrorCode = "search_unavailable"
	CodeInternal                    ErrorCode = "internal"
)

// ErrorType groups error codes the way clients are expected to react to them.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeSystem         ErrorType = "system"
	ErrorTypeInternal       ErrorType = "internal"
)

// CodedError is a semantic error carrying a public code and message.
type CodedError struct {
	Kind    error
	Code    ErrorCode
	Message string
}

func NewCodedError(kind error, code ErrorCode, format string, args ...any) *CodedError {
	return &CodedError{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *CodedError) Error() string {
	if e == nil {
		return "coded error"
	}
	return e.Message
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// CodeOf returns the public code of err, falling back to the code of its kind.
func CodeOf(err error) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	switch {
	case IsKind(err, ErrEmbedding):
		return CodeVectorEmbedding
	case IsKind(err, ErrInvalidInput):
		return CodeBadRequest
	case IsKind(err, ErrIndexNotFound):
		return CodeIndexNotFound
	case IsKind(err, ErrDocumentNotFound):
		return CodeDocumentNotFound
	case IsKind(err, ErrTaskNotFound):
		return CodeTaskNotFound
	case IsKind(err, ErrRateLimited):
		return CodeTooManyRequests
	case IsKind(err, ErrTemporary):
		return CodeSearchUnavailable
	default:
		return CodeInternal
	}
}

// MessageOf returns the client-facing message for err. Unclassified errors never leak details.
func MessageOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	switch CodeOf(err) {
	case CodeInternal:
		return "An internal error has occurred."
	case CodeSearchUnavailable:
		return "The search backend is temporarily unavailable."
	default:
		return err.Error()
	}
}

func TypeOf(err error) ErrorType {
	switch {
	case IsKind(err, ErrTemporary):
		return ErrorTypeSystem
	case IsKind(err, ErrInvalidInput),
		IsKind(err, ErrEmbedding),
		IsKind(err, ErrIndexNotFound),
		IsKind(err, ErrDocumentNotFound),
		IsKind(err, ErrTaskNotFound),
		IsKind(err, ErrRateLimited):
		return ErrorTypeInvalidRequest
	default:
		return ErrorTypeInternal
	}
}
