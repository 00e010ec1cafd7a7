package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
	"github.com/hyperdrive-eng/meilisearch/internal/infrastructure/resilience"
)

// levenshtein() in fuzzystrmatch rejects arguments longer than 255 characters.
const maxFuzzyTermLength = 255

// LexicalSearcher matches query terms against document_terms. A document scores the share
// of query terms it matches in any searched attribute, within that attribute's typo budget.
type LexicalSearcher struct {
	db     *sql.DB
	runner runner
}

func NewLexicalSearcher(db *sql.DB, executor *resilience.Executor) *LexicalSearcher {
	return &LexicalSearcher{db: db, runner: runner{executor: executor}}
}

// attributeGroup holds the attributes that give every query term the same typo budget, so
// a single statement can match them all.
type attributeGroup struct {
	attributes []string
	budgets    []int
}

type lexicalMatch struct {
	seq   int64
	terms map[int]struct{}
}

func (s *LexicalSearcher) Search(ctx context.Context, query domain.LexicalQuery) (*domain.CandidateSet, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	if len(query.Terms) == 0 {
		return s.placeholder(ctx, query.IndexUID, limit)
	}
	if len(query.Attributes) == 0 {
		return domain.NewCandidateSet(domain.OriginLexical, 0), nil
	}

	matches := make(map[string]*lexicalMatch)
	for _, group := range groupAttributes(query) {
		if err := s.matchGroup(ctx, query.IndexUID, query.Terms, group, matches); err != nil {
			return nil, err
		}
	}
	return rankMatches(query.IndexUID, len(query.Terms), matches, limit), nil
}

func groupAttributes(query domain.LexicalQuery) []attributeGroup {
	index := make(map[string]int)
	var groups []attributeGroup
	for _, attribute := range query.Attributes {
		budgets := make([]int, len(query.Terms))
		keyParts := make([]string, len(query.Terms))
		for i, term := range query.Terms {
			budget := query.Typo.AllowedTypos(term, attribute)
			if utf8.RuneCountInString(term) > maxFuzzyTermLength {
				budget = 0
			}
			budgets[i] = budget
			keyParts[i] = strconv.Itoa(budget)
		}
		key := strings.Join(keyParts, ",")
		if i, ok := index[key]; ok {
			groups[i].attributes = append(groups[i].attributes, attribute)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, attributeGroup{attributes: []string{attribute}, budgets: budgets})
	}
	return groups
}

func (s *LexicalSearcher) matchGroup(
	ctx context.Context,
	indexUID string,
	terms []string,
	group attributeGroup,
	matches map[string]*lexicalMatch,
) error {
	query, args := buildMatchQuery(indexUID, terms, group)

	return s.runner.run(ctx, "lexical_search", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query lexical matches: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var docID string
			var seq int64
			var ord int
			if err := rows.Scan(&docID, &seq, &ord); err != nil {
				return fmt.Errorf("scan lexical match: %w", err)
			}
			match, ok := matches[docID]
			if !ok {
				match = &lexicalMatch{seq: seq, terms: make(map[int]struct{})}
				matches[docID] = match
			}
			match.terms[ord] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate lexical matches: %w", err)
		}
		return nil
	})
}

// buildMatchQuery returns one row per (document, matched query term).
func buildMatchQuery(indexUID string, terms []string, group attributeGroup) (string, []any) {
	args := []any{indexUID}
	values := make([]string, 0, len(terms))
	for i, term := range terms {
		n := len(args)
		values = append(values, fmt.Sprintf("(%d, $%d::text, $%d::int)", i, n+1, n+2))
		args = append(args, term, group.budgets[i])
	}
	attrFrom := len(args) + 1
	for _, attribute := range group.attributes {
		args = append(args, attribute)
	}

	query := `
WITH q(ord, term, budget) AS (VALUES ` + strings.Join(values, ", ") + `)
SELECT DISTINCT t.doc_id, d.seq, q.ord
FROM document_terms t
JOIN q ON t.term = q.term
	OR (q.budget > 0 AND length(t.term) <= ` + strconv.Itoa(maxFuzzyTermLength) + `
		AND levenshtein_less_equal(t.term, q.term, q.budget) <= q.budget)
JOIN documents d ON d.index_uid = t.index_uid AND d.doc_id = t.doc_id
WHERE t.index_uid = $1 AND t.attribute IN (` + placeholders(attrFrom, len(group.attributes)) + `)`
	return query, args
}

func rankMatches(indexUID string, termCount int, matches map[string]*lexicalMatch, limit int) *domain.CandidateSet {
	type ranked struct {
		id    string
		seq   int64
		score float64
	}
	all := make([]ranked, 0, len(matches))
	for id, match := range matches {
		all = append(all, ranked{id: id, seq: match.seq, score: float64(len(match.terms)) / float64(termCount)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].seq != all[j].seq {
			return all[i].seq < all[j].seq
		}
		return all[i].id < all[j].id
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := domain.NewCandidateSet(domain.OriginLexical, len(all))
	for _, r := range all {
		out.Add(domain.DocumentRef{Source: indexUID, ID: r.id}, r.score)
	}
	return out
}

func (s *LexicalSearcher) placeholder(ctx context.Context, indexUID string, limit int) (*domain.CandidateSet, error) {
	out := domain.NewCandidateSet(domain.OriginLexical, limit)
	err := s.runner.run(ctx, "placeholder_listing", func(ctx context.Context) error {
		out.Candidates = out.Candidates[:0]
		rows, err := s.db.QueryContext(ctx, `
SELECT doc_id
FROM documents
WHERE index_uid = $1
ORDER BY seq
LIMIT $2
`, indexUID, limit)
		if err != nil {
			return fmt.Errorf("query placeholder listing: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan placeholder listing: %w", err)
			}
			out.Add(domain.DocumentRef{Source: indexUID, ID: id}, 1.0)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate placeholder listing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
