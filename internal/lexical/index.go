package lexical

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cass-dev/cass/pkg/model"
)

// DocID identifies one indexed message, mirroring the vector index's key
// per spec §3 ("Index records").
type DocID struct {
	ConversationID int64
	Seq            int
}

// Document is the lexical index's input shape: a message plus the
// conversation-level fields spec §3 lists for per-message documents.
// Defined independently of internal/catalog so this package stays a pure
// indexing/query engine the catalog's package does not need to import.
type Document struct {
	ID                DocID
	Content           string
	Agent             model.Agent
	Workspace         string
	WorkspaceOriginal string
	StartedAt         time.Time
	SourceID          string
	OriginKind        model.OriginKind
}

type posting struct {
	doc       DocID
	positions []int
}

// Index is an in-memory inverted index: a derived cache rebuildable from
// the catalog alone (spec §3, "Ownership"). Construction is not
// incremental by design — the controller's Writing phase re-runs Build
// over the full corpus snapshot, which is
// acceptable at the small-to-medium corpus sizes spec §1 scopes to.
type Index struct {
	postings map[string][]posting
	docs     map[DocID]Document
	docLen   map[DocID]int
	order    []DocID // insertion order; not read by any method
}

// Build constructs a fresh Index from a full corpus snapshot.
func Build(docs []Document) *Index {
	idx := &Index{
		postings: make(map[string][]posting),
		docs:     make(map[DocID]Document, len(docs)),
		docLen:   make(map[DocID]int, len(docs)),
	}
	termPositions := make(map[DocID]map[string][]int)
	for _, d := range docs {
		idx.docs[d.ID] = d
		idx.order = append(idx.order, d.ID)
		toks := Tokenize(d.Content)
		idx.docLen[d.ID] = len(toks)
		tp, ok := termPositions[d.ID]
		if !ok {
			tp = make(map[string][]int)
			termPositions[d.ID] = tp
		}
		for _, t := range toks {
			tp[t.Text] = append(tp[t.Text], t.Pos)
		}
	}
	for docID, tp := range termPositions {
		for term, positions := range tp {
			idx.postings[term] = append(idx.postings[term], posting{doc: docID, positions: positions})
		}
	}
	for term := range idx.postings {
		sort.Slice(idx.postings[term], func(i, j int) bool {
			return lessDocID(idx.postings[term][i].doc, idx.postings[term][j].doc)
		})
	}
	return idx
}

// lessDocID implements the deterministic tie-break order from spec §4.3:
// "(conversation_id desc, seq asc)".
func lessDocID(a, b DocID) bool {
	if a.ConversationID != b.ConversationID {
		return a.ConversationID > b.ConversationID
	}
	return a.Seq < b.Seq
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int { return len(idx.docs) }

// Document returns the stored Document for id, if indexed.
func (idx *Index) Document(id DocID) (Document, bool) {
	d, ok := idx.docs[id]
	return d, ok
}

// Scored is one scored hit from a lexical query, pre-filter.
type Scored struct {
	Doc   DocID
	Score float64
}

// termDocSet returns the set of DocIDs containing term, unordered.
func (idx *Index) termDocSet(term string) map[DocID]bool {
	set := make(map[DocID]bool)
	for _, p := range idx.postings[term] {
		set[p.doc] = true
	}
	return set
}

// idf computes inverse-document-frequency for a term over the corpus.
func (idx *Index) idf(term string) float64 {
	df := len(idx.postings[term])
	if df == 0 {
		return 0
	}
	n := float64(len(idx.docs))
	return math.Log(1 + n/float64(df))
}

// Term returns every document containing term with a non-negative
// TF-IDF score, deterministically ordered per spec §4.3.
func (idx *Index) Term(term string) []Scored {
	postings := idx.postings[term]
	idf := idx.idf(term)
	out := make([]Scored, 0, len(postings))
	for _, p := range postings {
		tf := float64(len(p.positions)) / float64(max(1, idx.docLen[p.doc]))
		out = append(out, Scored{Doc: p.doc, Score: tf * idf})
	}
	sortScored(out)
	return out
}

// Prefix returns documents containing any term with the given prefix
// (spec §4.3, "foo*").
func (idx *Index) Prefix(prefix string) []Scored {
	return idx.wildcard(func(term string) bool { return strings.HasPrefix(term, prefix) })
}

// Suffix returns documents containing any term ending with suffix (spec
// §4.3, "*foo"). May be slower than Prefix; correctness over speed.
func (idx *Index) Suffix(suffix string) []Scored {
	return idx.wildcard(func(term string) bool { return strings.HasSuffix(term, suffix) })
}

// Infix returns documents containing any term with substr anywhere inside
// (spec §4.3, "*foo*").
func (idx *Index) Infix(substr string) []Scored {
	return idx.wildcard(func(term string) bool { return strings.Contains(term, substr) })
}

func (idx *Index) wildcard(match func(string) bool) []Scored {
	byDoc := make(map[DocID]float64)
	for term, postings := range idx.postings {
		if !match(term) {
			continue
		}
		idf := idx.idf(term)
		for _, p := range postings {
			tf := float64(len(p.positions)) / float64(max(1, idx.docLen[p.doc]))
			byDoc[p.doc] += tf * idf
		}
	}
	out := make([]Scored, 0, len(byDoc))
	for doc, score := range byDoc {
		out = append(out, Scored{Doc: doc, Score: score})
	}
	sortScored(out)
	return out
}

// Phrase returns documents containing tokens as an exact consecutive
// token sequence (spec §4.3, "phrase (exact token sequence within
// content)").
func (idx *Index) Phrase(tokens []string) []Scored {
	if len(tokens) == 0 {
		return nil
	}
	candidates := idx.termDocSet(tokens[0])
	for _, t := range tokens[1:] {
		next := idx.termDocSet(t)
		for doc := range candidates {
			if !next[doc] {
				delete(candidates, doc)
			}
		}
	}
	var out []Scored
	for doc := range candidates {
		if idx.hasConsecutive(doc, tokens) {
			out = append(out, Scored{Doc: doc, Score: idx.phraseScore(doc, tokens)})
		}
	}
	sortScored(out)
	return out
}

func (idx *Index) positionsOf(doc DocID, term string) []int {
	for _, p := range idx.postings[term] {
		if p.doc == doc {
			return p.positions
		}
	}
	return nil
}

func (idx *Index) hasConsecutive(doc DocID, tokens []string) bool {
	firstPositions := idx.positionsOf(doc, tokens[0])
	for _, start := range firstPositions {
		ok := true
		for i := 1; i < len(tokens); i++ {
			positions := idx.positionsOf(doc, tokens[i])
			if !containsInt(positions, start+i) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (idx *Index) phraseScore(doc DocID, tokens []string) float64 {
	var score float64
	for _, t := range tokens {
		score += idx.idf(t)
	}
	return score / float64(max(1, idx.docLen[doc]))
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return lessDocID(s[i].Doc, s[j].Doc)
	})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
