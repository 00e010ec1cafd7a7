package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
)

const termInsertBatch = 1000

// DocumentRepository stores documents as JSONB together with the term rows the lexical
// source matches against. It also answers distinct attribute lookups.
type DocumentRepository struct {
	db     *sql.DB
	runner runner
}

func NewDocumentRepository(db *sql.DB, executor *resilience.Executor) *DocumentRepository {
	return &DocumentRepository{db: db, runner: runner{executor: executor}}
}

// SaveDocuments replaces the given documents and their terms in one transaction. A replaced
// document keeps its original insertion position.
func (r *DocumentRepository) SaveDocuments(ctx context.Context, indexUID string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return r.runner.run(ctx, "save_documents", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		now := time.Now().UTC()
		for _, doc := range docs {
			if err := saveDocument(ctx, tx, indexUID, doc, now); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit save tx: %w", err)
		}
		return nil
	})
}

func saveDocument(ctx context.Context, tx *sql.Tx, indexUID string, doc domain.Document, now time.Time) error {
	fieldsJSON, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields of %s: %w", doc.ID, err)
	}
	vectors := doc.Vectors
	if vectors == nil {
		vectors = map[string][][]float32{}
	}
	vectorsJSON, err := json.Marshal(vectors)
	if err != nil {
		return fmt.Errorf("marshal vectors of %s: %w", doc.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (index_uid, doc_id, fields, vectors, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (index_uid, doc_id) DO UPDATE
SET fields = EXCLUDED.fields, vectors = EXCLUDED.vectors, updated_at = EXCLUDED.updated_at
`, indexUID, doc.ID, fieldsJSON, vectorsJSON, now)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_terms WHERE index_uid = $1 AND doc_id = $2`, indexUID, doc.ID); err != nil {
		return fmt.Errorf("delete terms of %s: %w", doc.ID, err)
	}

	rows := documentTerms(doc.Fields)
	for start := 0; start < len(rows); start += termInsertBatch {
		end := min(start+termInsertBatch, len(rows))
		if err := insertTerms(ctx, tx, indexUID, doc.ID, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func insertTerms(ctx context.Context, tx *sql.Tx, indexUID, docID string, rows []termRow) error {
	args := make([]any, 0, 2+len(rows)*2)
	args = append(args, indexUID, docID)
	values := make([]string, 0, len(rows))
	for i, row := range rows {
		values = append(values, fmt.Sprintf("($1, $2, $%d, $%d)", 3+i*2, 4+i*2))
		args = append(args, row.attribute, row.term)
	}

	query := `INSERT INTO document_terms (index_uid, doc_id, attribute, term) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert terms of %s: %w", docID, err)
	}
	return nil
}

type termRow struct {
	attribute string
	term      string
}

// documentTerms lists the unique terms of every top-level field. Nested values are indexed
// under their top-level attribute.
func documentTerms(fields map[string]any) []termRow {
	attributes := make([]string, 0, len(fields))
	for attribute := range fields {
		attributes = append(attributes, attribute)
	}
	sort.Strings(attributes)

	var rows []termRow
	for _, attribute := range attributes {
		var text strings.Builder
		appendText(&text, fields[attribute])
		for _, term := range domain.UniqueTerms(text.String()) {
			rows = append(rows, termRow{attribute: attribute, term: term})
		}
	}
	return rows
}

func appendText(buf *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
	case string:
		buf.WriteString(v)
		buf.WriteByte(' ')
	case []any:
		for _, item := range v {
			appendText(buf, item)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			appendText(buf, v[k])
		}
	default:
		fmt.Fprintf(buf, "%v ", v)
	}
}

func (r *DocumentRepository) GetDocuments(ctx context.Context, indexUID string, ids []string) (map[string]domain.Document, error) {
	out := make(map[string]domain.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, indexUID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `
SELECT doc_id, fields, vectors
FROM documents
WHERE index_uid = $1 AND doc_id IN (` + placeholders(2, len(ids)) + `)`

	err := r.runner.run(ctx, "get_documents", func(ctx context.Context) error {
		clear(out)
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query documents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanDocument(rows, indexUID)
			if err != nil {
				return err
			}
			out[doc.ID] = doc
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, indexUID, id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.runner.run(ctx, "get_document", func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
SELECT doc_id, fields, vectors
FROM documents
WHERE index_uid = $1 AND doc_id = $2
`, indexUID, id)
		var err error
		doc, err = scanDocument(row, indexUID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewCodedError(domain.ErrDocumentNotFound, domain.CodeDocumentNotFound,
				"Document `%s` not found.", id)
		}
		return nil, err
	}
	return &doc, nil
}

// FieldNames lists every top-level field seen in the index, sorted.
func (r *DocumentRepository) FieldNames(ctx context.Context, indexUID string) ([]string, error) {
	var names []string
	err := r.runner.run(ctx, "field_names", func(ctx context.Context) error {
		names = names[:0]
		rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT key
FROM documents, jsonb_object_keys(fields) AS key
WHERE index_uid = $1
ORDER BY key
`, indexUID)
		if err != nil {
			return fmt.Errorf("query field names: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan field name: %w", err)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate field names: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DistinctValues reads attribute as JSONB text. Postgres prints JSONB canonically, so equal
// values give equal keys. Absent and null values are left out.
func (r *DocumentRepository) DistinctValues(ctx context.Context, indexUID, attribute string, ids []string) (map[string]domain.DistinctKey, error) {
	out := make(map[string]domain.DistinctKey, len(ids))
	if len(ids) == 0 || attribute == "" {
		return out, nil
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, indexUID, attribute)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `
SELECT doc_id, (fields -> $2)::text
FROM documents
WHERE index_uid = $1 AND doc_id IN (` + placeholders(3, len(ids)) + `)`

	err := r.runner.run(ctx, "distinct_values", func(ctx context.Context) error {
		clear(out)
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query distinct values: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var value sql.NullString
			if err := rows.Scan(&id, &value); err != nil {
				return fmt.Errorf("scan distinct value: %w", err)
			}
			if !value.Valid || value.String == "null" {
				continue
			}
			out[id] = domain.DistinctKey(value.String)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate distinct values: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, indexUID string) (domain.Document, error) {
	var id string
	var fieldsRaw, vectorsRaw []byte
	if err := row.Scan(&id, &fieldsRaw, &vectorsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, err
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}

	doc := domain.Document{IndexUID: indexUID, ID: id}
	decoder := json.NewDecoder(bytes.NewReader(fieldsRaw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc.Fields); err != nil {
		return domain.Document{}, fmt.Errorf("unmarshal fields of %s: %w", id, err)
	}
	if len(vectorsRaw) > 0 {
		if err := json.Unmarshal(vectorsRaw, &doc.Vectors); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal vectors of %s: %w", id, err)
		}
	}
	return doc, nil
}
