package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Origin identifies the retrieval source(s) behind a score.
type Origin uint8

const (
	OriginLexical Origin = 1 << iota
	OriginVector
)

func (o Origin) Has(other Origin) bool {
	return other != 0 && o&other == other
}

func (o Origin) String() string {
	switch o {
	case 0:
		return "none"
	case OriginLexical:
		return "lexical"
	case OriginVector:
		return "vector"
	case OriginLexical | OriginVector:
		return "lexical+vector"
	default:
		return "unknown"
	}
}

// DocumentRef identifies a document inside one index.
type DocumentRef struct {
	Source string
	ID     string
}

func (r DocumentRef) String() string {
	return r.Source + "/" + r.ID
}

func (r DocumentRef) Less(other DocumentRef) bool {
	if r.Source != other.Source {
		return r.Source < other.Source
	}
	return r.ID < other.ID
}

type ScoredCandidate struct {
	Ref      DocumentRef
	RawScore float64
	Origin   Origin
}

// CandidateSet is the ranked output of one retrieval source. Candidates keep the source's order.
type CandidateSet struct {
	Origin     Origin
	Candidates []ScoredCandidate
}

func NewCandidateSet(origin Origin, capacity int) *CandidateSet {
	return &CandidateSet{
		Origin:     origin,
		Candidates: make([]ScoredCandidate, 0, capacity),
	}
}

func (s *CandidateSet) Add(ref DocumentRef, rawScore float64) {
	s.Candidates = append(s.Candidates, ScoredCandidate{
		Ref:      ref,
		RawScore: rawScore,
		Origin:   s.Origin,
	})
}

func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candidates)
}

type FusedResult struct {
	Ref           DocumentRef
	Score         float64
	ContributedBy Origin
}

// DistinctKey is the canonical JSON text of a document's distinct attribute value.
type DistinctKey string

type FusionMode string

const (
	FusionModePlaceholder FusionMode = "placeholder"
	FusionModeKeyword     FusionMode = "keyword"
	FusionModeSemantic    FusionMode = "semantic"
	FusionModeHybrid      FusionMode = "hybrid"
)

func (m FusionMode) UsesLexical() bool {
	return m == FusionModePlaceholder || m == FusionModeKeyword || m == FusionModeHybrid
}

func (m FusionMode) UsesVector() bool {
	return m == FusionModeSemantic || m == FusionModeHybrid
}

type ResultPage struct {
	Results           []FusedResult
	SemanticHitCount  *int
	Mode              FusionMode
	TotalCandidates   int
	DroppedDuplicates int
}

const (
	DefaultSearchLimit   = 20
	DefaultSemanticRatio = 0.5
)

// SearchLimits bounds the work done for one query.
type SearchLimits struct {
	Timeout             time.Duration
	CandidateMultiplier int
	MaxCandidates       int
}

// CandidateWindow returns how many candidates each source is asked for to fill offset+limit.
func (l SearchLimits) CandidateWindow(offset, limit int) int {
	window := (offset + limit) * l.CandidateMultiplier
	if l.MaxCandidates > 0 && window > l.MaxCandidates {
		window = l.MaxCandidates
	}
	if window < 1 {
		window = 1
	}
	return window
}

type HybridQuery struct {
	Embedder      string   `json:"embedder"`
	SemanticRatio *float64 `json:"semanticRatio,omitempty"`
}

func (h *HybridQuery) Ratio() float64 {
	if h == nil || h.SemanticRatio == nil {
		return DefaultSemanticRatio
	}
	return *h.SemanticRatio
}

type SearchQuery struct {
	IndexUID             string       `json:"indexUid,omitempty"`
	Q                    *string      `json:"q,omitempty"`
	Vector               []float32    `json:"vector,omitempty"`
	Hybrid               *HybridQuery `json:"hybrid,omitempty"`
	Limit                *int         `json:"limit,omitempty"`
	Offset               *int         `json:"offset,omitempty"`
	ShowRankingScore     bool         `json:"showRankingScore,omitempty"`
	RetrieveVectors      bool         `json:"retrieveVectors,omitempty"`
	AttributesToSearchOn []string     `json:"attributesToSearchOn,omitempty"`
	Distinct             string       `json:"distinct,omitempty"`

	// RatioParam names the request field that carried the semantic ratio, for error messages.
	RatioParam string `json:"-"`
}

func (q SearchQuery) QueryText() string {
	if q.Q == nil {
		return ""
	}
	return *q.Q
}

func (q SearchQuery) HasQuery() bool {
	return strings.TrimSpace(q.QueryText()) != ""
}

func (q SearchQuery) PageLimit() int {
	if q.Limit == nil {
		return DefaultSearchLimit
	}
	return *q.Limit
}

func (q SearchQuery) PageOffset() int {
	if q.Offset == nil {
		return 0
	}
	return *q.Offset
}

// Hit is a returned document; Fields are flattened into the JSON object.
type Hit struct {
	Fields       map[string]any
	RankingScore *float64
	Vectors      map[string][][]float32
	Federation   *HitFederation
}

type HitFederation struct {
	IndexUID             string  `json:"indexUid"`
	QueriesPosition      int     `json:"queriesPosition"`
	WeightedRankingScore float64 `json:"weightedRankingScore"`
}

type hitVectors struct {
	Embeddings [][]float32 `json:"embeddings"`
	Regenerate bool        `json:"regenerate"`
}

func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Fields)+3)
	for k, v := range h.Fields {
		if k == VectorsField {
			continue
		}
		out[k] = v
	}
	if h.Vectors != nil {
		vectors := make(map[string]hitVectors, len(h.Vectors))
		for name, embeddings := range h.Vectors {
			vectors[name] = hitVectors{Embeddings: embeddings}
		}
		out[VectorsField] = vectors
	}
	if h.RankingScore != nil {
		out["_rankingScore"] = *h.RankingScore
	}
	if h.Federation != nil {
		out["_federation"] = h.Federation
	}
	return json.Marshal(out)
}

type SearchResult struct {
	IndexUID           string `json:"indexUid,omitempty"`
	Hits               []Hit  `json:"hits"`
	Query              string `json:"query"`
	ProcessingTimeMs   int64  `json:"processingTimeMs"`
	Limit              int    `json:"limit"`
	Offset             int    `json:"offset"`
	EstimatedTotalHits int    `json:"estimatedTotalHits"`
	SemanticHitCount   *int   `json:"semanticHitCount"`

	Mode              FusionMode `json:"-"`
	DroppedDuplicates int        `json:"-"`
}

type FederationOptions struct {
	Weight *float64 `json:"weight,omitempty"`
}

type FederatedSearchQuery struct {
	SearchQuery
	FederationOptions *FederationOptions `json:"federationOptions,omitempty"`
}

func (q FederatedSearchQuery) Weight() float64 {
	if q.FederationOptions == nil || q.FederationOptions.Weight == nil {
		return 1.0
	}
	return *q.FederationOptions.Weight
}

type Federation struct {
	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
}

type MultiSearchRequest struct {
	Federation *Federation            `json:"federation"`
	Queries    []FederatedSearchQuery `json:"queries"`
}

// MultiSearchResult answers a multi-search request without federation, one result per query.
type MultiSearchResult struct {
	Results []SearchResult `json:"results"`
}

type FederatedSearchResult struct {
	Hits               []Hit `json:"hits"`
	ProcessingTimeMs   int64 `json:"processingTimeMs"`
	Limit              int   `json:"limit"`
	Offset             int   `json:"offset"`
	EstimatedTotalHits int   `json:"estimatedTotalHits"`
	SemanticHitCount   *int  `json:"semanticHitCount"`

	DroppedDuplicates int `json:"-"`
}

// LexicalQuery is what the keyword source receives. An empty Terms list is a placeholder listing.
type LexicalQuery struct {
	IndexUID   string
	Terms      []string
	Attributes []string
	Typo       TypoConfig
	Limit      int
}
