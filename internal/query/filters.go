package query

import (
	"time"

	"github.com/cass-dev/cass/internal/lexical"
	"github.com/cass-dev/cass/pkg/model"
)

// Filters compose conjunctively with the content predicate, per spec
// §4.3.
type Filters struct {
	Agent      model.Agent
	Workspace  string
	SourceID   string
	OriginKind model.OriginKind
	Since      time.Time // zero means unset
	Until      time.Time // zero means unset
	Days       int        // relative filter: Since = now - Days; 0 means unset
	Limit      int
	Offset     int
}

// Apply filters hits in place, returning a new slice. idx resolves each
// DocID to its indexed Document for field comparisons.
func Apply(hits []lexical.Scored, idx *lexical.Index, f Filters) []lexical.Scored {
	since := f.Since
	if f.Days > 0 {
		candidate := time.Now().UTC().AddDate(0, 0, -f.Days)
		if since.IsZero() || candidate.After(since) {
			since = candidate
		}
	}

	out := make([]lexical.Scored, 0, len(hits))
	for _, h := range hits {
		doc, ok := idx.Document(h.Doc)
		if !ok {
			continue
		}
		if f.Agent != "" && doc.Agent != f.Agent {
			continue
		}
		if f.Workspace != "" && doc.Workspace != f.Workspace {
			continue
		}
		if f.SourceID != "" && doc.SourceID != f.SourceID {
			continue
		}
		if f.OriginKind != "" && doc.OriginKind != f.OriginKind {
			continue
		}
		if !since.IsZero() && doc.StartedAt.Before(since) {
			continue
		}
		if !f.Until.IsZero() && doc.StartedAt.After(f.Until) {
			continue
		}
		out = append(out, h)
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
