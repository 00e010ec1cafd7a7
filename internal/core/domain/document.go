package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const VectorsField = "_vectors"

type Document struct {
	IndexUID string
	ID       string
	Fields   map[string]any
	Vectors  map[string][][]float32
}

// VectorPoint is one embedding of a document. Ordinal tells apart several embeddings of
// the same document under one embedder.
type VectorPoint struct {
	DocumentID string
	Ordinal    int
	Vector     []float32
}

type TaskStatus string

const (
	TaskStatusEnqueued   TaskStatus = "enqueued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
)

const TaskTypeDocumentAddition = "documentAdditionOrUpdate"

type TaskError struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
	Type    ErrorType `json:"type"`
}

type Task struct {
	UID               string     `json:"taskUid"`
	IndexUID          string     `json:"indexUid"`
	Type              string     `json:"type"`
	Status            TaskStatus `json:"status"`
	PayloadKey        string     `json:"-"`
	ReceivedDocuments int        `json:"receivedDocuments"`
	IndexedDocuments  int        `json:"indexedDocuments"`
	Error             *TaskError `json:"error"`
	EnqueuedAt        time.Time  `json:"enqueuedAt"`
	StartedAt         *time.Time `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt"`
}

// NewTaskError captures err in the client-facing error shape.
func NewTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	return &TaskError{
		Message: MessageOf(err),
		Code:    CodeOf(err),
		Type:    TypeOf(err),
	}
}

// ParseDocuments decodes a JSON array of documents and validates the shape of each
// document's primary key and _vectors field. Malformed input is always an invalid request.
func ParseDocuments(indexUID, primaryKey string, body []byte) ([]Document, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw []map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, NewCodedError(ErrInvalidInput, CodeMalformedPayload,
			"The `json` payload provided is malformed. `%s`.", err)
	}

	docs := make([]Document, 0, len(raw))
	for _, fields := range raw {
		id, err := documentID(primaryKey, fields)
		if err != nil {
			return nil, err
		}
		vectors, err := parseVectorsField(id, fields[VectorsField])
		if err != nil {
			return nil, err
		}
		delete(fields, VectorsField)
		docs = append(docs, Document{
			IndexUID: indexUID,
			ID:       id,
			Fields:   fields,
			Vectors:  vectors,
		})
	}
	return docs, nil
}

func documentID(primaryKey string, fields map[string]any) (string, error) {
	value, ok := fields[primaryKey]
	if !ok || value == nil {
		return "", NewCodedError(ErrInvalidInput, CodeMissingDocumentID,
			"Document doesn't have a `%s` attribute: `%s`.", primaryKey, compactJSON(fields))
	}
	switch v := value.(type) {
	case string:
		if v == "" || len(v) > 511 || strings.IndexFunc(v, invalidIDRune) >= 0 {
			return "", invalidDocumentID(v)
		}
		return v, nil
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return "", invalidDocumentID(v.String())
		}
		return v.String(), nil
	default:
		return "", invalidDocumentID(compactJSON(v))
	}
}

func invalidIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		return false
	default:
		return true
	}
}

func invalidDocumentID(id string) error {
	return NewCodedError(ErrInvalidInput, CodeInvalidDocumentID,
		"Document identifier `%s` is invalid. A document identifier can be of type integer or string, only composed of alphanumeric characters (a-z A-Z 0-9), hyphens (-) and underscores (_), and can not be more than 511 bytes.", id)
}

func parseVectorsField(docID string, value any) (map[string][][]float32, error) {
	if value == nil {
		return nil, nil
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, NewCodedError(ErrInvalidInput, CodeInvalidVectorsType,
			"The `_vectors` field in the document with id: `%s` is not an object. Was expecting an object with a key for each embedder with manually provided vectors, but instead got `%s`",
			docID, compactJSON(value))
	}

	out := make(map[string][][]float32, len(object))
	for embedder, raw := range object {
		embeddings, err := parseEmbeddings(raw)
		if err != nil {
			return nil, NewCodedError(ErrInvalidInput, CodeInvalidVectorsType,
				"Invalid value type at `._vectors.%s` in the document with id: `%s`: expected an array of floats, an array of arrays of floats, or an object with field `embeddings`, but found `%s`.",
				embedder, docID, compactJSON(raw))
		}
		if len(embeddings) > 0 {
			out[embedder] = embeddings
		}
	}
	return out, nil
}

func parseEmbeddings(raw any) ([][]float32, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return parseEmbeddings(v["embeddings"])
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		if _, nested := v[0].([]any); nested {
			out := make([][]float32, 0, len(v))
			for _, item := range v {
				inner, ok := item.([]any)
				if !ok {
					return nil, fmt.Errorf("mixed embedding shapes")
				}
				vector, err := parseVector(inner)
				if err != nil {
					return nil, err
				}
				out = append(out, vector)
			}
			return out, nil
		}
		vector, err := parseVector(v)
		if err != nil {
			return nil, err
		}
		return [][]float32{vector}, nil
	default:
		return nil, fmt.Errorf("unexpected embedding type %T", raw)
	}
}

func parseVector(items []any) ([]float32, error) {
	out := make([]float32, 0, len(items))
	for _, item := range items {
		number, ok := item.(json.Number)
		if !ok {
			return nil, fmt.Errorf("vector component is not a number")
		}
		f, err := number.Float64()
		if err != nil {
			return nil, err
		}
		out = append(out, float32(f))
	}
	return out, nil
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
