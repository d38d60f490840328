// Package reranker implements the pluggable cross-encoder slot of the
// Embedder/Reranker registry (spec §4.6) and the always-available
// fallback reranker (spec §4.4, "Reranking"). Grounded on
// fyrsmithlabs-contextd/internal/reranker/{interface.go,simple.go},
// generalized from the teacher's vector-search-result Document shape into
// CASS's (query, candidate.content) pair contract.
package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNilContext mirrors the teacher's own nil-context guard.
var ErrNilContext = errors.New("reranker: context cannot be nil")

// Candidate is one post-fusion hit handed to a Reranker, per spec §4.4
// ("The reranker receives (query, candidate.content) pairs").
type Candidate struct {
	ID      string
	Content string
	Score   float64 // pre-rerank fused score
}

// Scored is a Candidate annotated with the reranker's own score.
type Scored struct {
	Candidate
	RerankerScore float64
	OriginalRank  int
}

// Reranker reorders the top-N (≤50) post-fusion candidates for a query.
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error)
}

// Simple is the always-available term-overlap reranker (no TF-IDF weighting): term overlap
// between the query and each candidate, blended 50/50 with the original
// fused score, exactly as fyrsmithlabs-contextd/internal/reranker/simple.go
// does for its vector-search candidates.
type Simple struct{}

// NewSimple returns the always-available reranker.
func NewSimple() *Simple { return &Simple{} }

func (s *Simple) Name() string { return "simple" }

func (s *Simple) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Scored, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	queryTokens := tokenize(query)
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(queryTokens, tokenize(c.Content))
		const originalWeight, overlapWeight = 0.5, 0.5
		combined := originalWeight*c.Score + overlapWeight*overlap
		out[i] = Scored{Candidate: c, RerankerScore: combined, OriginalRank: i}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankerScore > out[j].RerankerScore })
	return out, nil
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool { return !isAlnum(r) })
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

func termOverlap(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(doc))
	for _, t := range doc {
		docSet[t] = true
	}
	counted := make(map[string]bool)
	matches := 0
	for _, t := range query {
		if docSet[t] && !counted[t] {
			matches++
			counted[t] = true
		}
	}
	return float64(matches) / float64(len(query))
}

// Registry maps reranker names to instances. Like the embedder registry
// (spec §9, "global state"), it is a process-wide read-mostly table
// initialized at process start.
type Registry struct {
	byName map[string]Reranker
}

// NewRegistry returns a Registry with at least "simple" registered.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Reranker)}
	r.Register(NewSimple())
	return r
}

func (r *Registry) Register(rr Reranker) { r.byName[rr.Name()] = rr }

func (r *Registry) Get(name string) (Reranker, bool) {
	rr, ok := r.byName[name]
	return rr, ok
}
