package query

import (
	"sort"

	"github.com/cass-dev/cass/internal/lexical"
)

// sortScored applies the deterministic tie-break from spec §4.3:
// descending score, then (conversation_id desc, seq asc).
func sortScored(s []lexical.Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		a, b := s[i].Doc, s[j].Doc
		if a.ConversationID != b.ConversationID {
			return a.ConversationID > b.ConversationID
		}
		return a.Seq < b.Seq
	})
}

// Eval walks an AST against idx and returns deterministically-ordered
// scored hits (spec §8: "search(Q,S) is deterministic").
func Eval(node Node, idx *lexical.Index) []lexical.Scored {
	switch n := node.(type) {
	case TermNode:
		return evalTerm(n, idx)
	case PhraseNode:
		return idx.Phrase(n.Tokens)
	case AndNode:
		return evalAnd(n, idx)
	case OrNode:
		return evalOr(n, idx)
	case NotNode:
		return evalNot(n, idx)
	default:
		return nil
	}
}

func evalTerm(n TermNode, idx *lexical.Index) []lexical.Scored {
	switch n.Wildcard {
	case WildcardPrefix:
		return idx.Prefix(n.Text)
	case WildcardSuffix:
		return idx.Suffix(n.Text)
	case WildcardInfix:
		return idx.Infix(n.Text)
	default:
		return idx.Term(n.Text)
	}
}

func evalAnd(n AndNode, idx *lexical.Index) []lexical.Scored {
	if len(n.Children) == 0 {
		return nil
	}
	acc := toMap(Eval(n.Children[0], idx))
	for _, c := range n.Children[1:] {
		next := toMap(Eval(c, idx))
		for doc, score := range acc {
			ns, ok := next[doc]
			if !ok {
				delete(acc, doc)
				continue
			}
			acc[doc] = score + ns
		}
	}
	return toSorted(acc)
}

func evalOr(n OrNode, idx *lexical.Index) []lexical.Scored {
	acc := make(map[lexical.DocID]float64)
	for _, c := range n.Children {
		for _, s := range Eval(c, idx) {
			acc[s.Doc] += s.Score
		}
	}
	return toSorted(acc)
}

// evalNot is only meaningful composed under an AND (a bare NOT has no
// positive set to subtract from); as a standalone node it returns every
// document not matched by the child, scored uniformly, so that `NOT x`
// alone still produces a deterministic (if coarse) result rather than an
// error.
func evalNot(n NotNode, idx *lexical.Index) []lexical.Scored {
	excluded := toMap(Eval(n.Child, idx))
	acc := make(map[lexical.DocID]float64)
	for docID := range allDocs(idx) {
		if _, skip := excluded[docID]; skip {
			continue
		}
		acc[docID] = 1
	}
	return toSorted(acc)
}

func allDocs(idx *lexical.Index) map[lexical.DocID]struct{} {
	// There is no direct accessor for the full doc set on Index beyond
	// Document(id) lookups, so NOT relies on the term-scan path via an
	// empty-prefix wildcard scan, which matches every tokenized document.
	out := make(map[lexical.DocID]struct{})
	for _, s := range idx.Prefix("") {
		out[s.Doc] = struct{}{}
	}
	return out
}

func toMap(s []lexical.Scored) map[lexical.DocID]float64 {
	m := make(map[lexical.DocID]float64, len(s))
	for _, item := range s {
		m[item.Doc] = item.Score
	}
	return m
}

func toSorted(m map[lexical.DocID]float64) []lexical.Scored {
	out := make([]lexical.Scored, 0, len(m))
	for doc, score := range m {
		out = append(out, lexical.Scored{Doc: doc, Score: score})
	}
	sortScored(out)
	return out
}
