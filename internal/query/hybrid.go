package query

import (
	"context"
	"sort"
	"strconv"

	"github.com/cass-dev/cass/internal/lexical"
	"github.com/cass-dev/cass/internal/reranker"
	"github.com/cass-dev/cass/internal/vectorindex"
)

// Mode selects which retrieval path(s) a search executes, per spec §4.4.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
)

// rrfK is the Reciprocal Rank Fusion constant fixed by spec §4.4.
const rrfK = 60.0

// rerankTopN is the maximum number of post-fusion candidates handed to
// the reranker, per spec §4.4 ("top-N (≤ 50) post-fusion").
const rerankTopN = 50

// Embed resolves a query string to a vector for the semantic leg. Callers
// supply this (bound to the configured internal/embedder.Embedder) rather
// than this package importing the embedder registry directly, keeping
// the hybrid executor decoupled from any specific embedding backend.
type Embed func(ctx context.Context, text string) ([]float32, error)

// Executor runs a parsed query against both the lexical index and the
// vector index shard, fuses the results, and optionally reranks.
type Executor struct {
	Lexical     *lexical.Index
	Vector      *vectorindex.Index
	Embed       Embed
	Reranker    reranker.Reranker // nil disables reranking
	Parallelism int               // CASS_PARALLEL_SEARCH; 0 uses GOMAXPROCS
}

// Fused is one fused-and-possibly-reranked hit.
type Fused struct {
	Doc           lexical.DocID
	FusedScore    float64
	RerankerScore float64 // zero if no reranker ran
	Reranked      bool
}

// Run executes plan against idx/vector per mode, fuses with RRF when mode
// is hybrid, applies filters, and reranks the head of the result list.
func (ex *Executor) Run(ctx context.Context, plan *Plan, query string, mode Mode, filters Filters, contentOf func(lexical.DocID) string) ([]Fused, error) {
	var lexHits []lexical.Scored
	if mode == ModeHybrid || mode == ModeLexical {
		lexHits = Eval(plan.Root, ex.Lexical)
	}

	var vecHits []vectorindex.Hit
	if (mode == ModeHybrid || mode == ModeSemantic) && ex.Vector != nil && ex.Embed != nil {
		vec, err := ex.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		hits, err := vectorindex.Search(ctx, ex.Vector, vec, 0, ex.Parallelism)
		if err != nil {
			return nil, err
		}
		vecHits = hits
	}

	var fused []Fused
	switch mode {
	case ModeLexical:
		fused = fromLexical(lexHits)
	case ModeSemantic:
		fused = fromVector(vecHits)
	default:
		fused = rrfFuse(lexHits, vecHits)
	}

	fused = filterFused(fused, ex.Lexical, filters)

	if ex.Reranker != nil && len(fused) > 0 {
		var err error
		fused, err = ex.rerank(ctx, query, fused, contentOf)
		if err != nil {
			return nil, err
		}
	}
	return fused, nil
}

func fromLexical(hits []lexical.Scored) []Fused {
	out := make([]Fused, len(hits))
	for i, h := range hits {
		out[i] = Fused{Doc: h.Doc, FusedScore: h.Score}
	}
	return out
}

func fromVector(hits []vectorindex.Hit) []Fused {
	out := make([]Fused, len(hits))
	for i, h := range hits {
		out[i] = Fused{Doc: h.Doc, FusedScore: h.Score}
	}
	return out
}

// rrfFuse implements spec §4.4: "for rank r in a list, contribute
// 1/(k + r) with k = 60", summed across the lexical and semantic ranked
// lists, final order descending fused score with the §4.3 tie-break.
func rrfFuse(lexHits []lexical.Scored, vecHits []vectorindex.Hit) []Fused {
	scores := make(map[lexical.DocID]float64)
	for r, h := range lexHits {
		scores[h.Doc] += 1.0 / (rrfK + float64(r))
	}
	for r, h := range vecHits {
		scores[h.Doc] += 1.0 / (rrfK + float64(r))
	}
	out := make([]Fused, 0, len(scores))
	for doc, score := range scores {
		out = append(out, Fused{Doc: doc, FusedScore: score})
	}
	sortFused(out)
	return out
}

func sortFused(out []Fused) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		a, b := out[i].Doc, out[j].Doc
		if a.ConversationID != b.ConversationID {
			return a.ConversationID > b.ConversationID
		}
		return a.Seq < b.Seq
	})
}

func filterFused(fused []Fused, idx *lexical.Index, f Filters) []Fused {
	// Reuse the lexical.Scored filter path by round-tripping through it;
	// Fused carries the same Doc key and this avoids duplicating the
	// conjunctive-predicate logic in filters.go.
	scored := make([]lexical.Scored, len(fused))
	byDoc := make(map[lexical.DocID]Fused, len(fused))
	for i, fu := range fused {
		scored[i] = lexical.Scored{Doc: fu.Doc, Score: fu.FusedScore}
		byDoc[fu.Doc] = fu
	}
	kept := Apply(scored, idx, f)
	out := make([]Fused, len(kept))
	for i, k := range kept {
		out[i] = byDoc[k.Doc]
	}
	return out
}

// rerank reranks the top rerankTopN fused hits and preserves the tail
// unchanged, per spec §4.4 ("the final order uses the reranker score for
// those items and preserves the tail").
func (ex *Executor) rerank(ctx context.Context, query string, fused []Fused, contentOf func(lexical.DocID) string) ([]Fused, error) {
	head := fused
	tail := []Fused(nil)
	if len(fused) > rerankTopN {
		head = fused[:rerankTopN]
		tail = fused[rerankTopN:]
	}

	candidates := make([]reranker.Candidate, len(head))
	for i, f := range head {
		candidates[i] = reranker.Candidate{ID: docKey(f.Doc), Content: contentOf(f.Doc), Score: f.FusedScore}
	}
	scored, err := ex.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Fused, len(head))
	for _, f := range head {
		byID[docKey(f.Doc)] = f
	}
	newHead := make([]Fused, 0, len(scored))
	for _, s := range scored {
		f := byID[s.ID]
		f.RerankerScore = s.RerankerScore
		f.Reranked = true
		newHead = append(newHead, f)
	}
	return append(newHead, tail...), nil
}

func docKey(d lexical.DocID) string {
	return strconv.FormatInt(d.ConversationID, 10) + ":" + strconv.Itoa(d.Seq)
}
