// Package robot implements the --robot / --robot-format output contract of
// spec §6: machine-readable search results in one of four encodings
// (json, jsonl, compact, sessions), plus the structured {code, kind,
// message, hint, retryable} error payload every command emits on stderr
// when --robot is set. Grounded on the teacher's ctxd CLI's
// request/response JSON marshaling idiom (cmd/ctxd/main.go's
// ScrubRequest/ScrubResponse), generalized from one fixed shape to the
// four format variants spec §6 names, since no pack repo implements a
// selectable-output-format CLI.
package robot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cass-dev/cass/internal/casserr"
)

// Format is one of the four --robot-format values spec §6 names.
type Format string

const (
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatCompact  Format = "compact"
	FormatSessions Format = "sessions"
)

// ParseFormat validates a --robot-format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatJSONL, FormatCompact, FormatSessions:
		return Format(s), nil
	default:
		return "", casserr.New(casserr.KindQuery, fmt.Sprintf("unknown robot format %q", s), "want one of: json, jsonl, compact, sessions")
	}
}

// Hit is one search result row, per spec §6's field list.
type Hit struct {
	Title             string `json:"title"`
	Snippet           string `json:"snippet"`
	Score             float64 `json:"score"`
	SourcePath        string `json:"source_path"`
	Agent             string `json:"agent"`
	Workspace         string `json:"workspace"`
	WorkspaceOriginal string `json:"workspace_original,omitempty"`
	LineNumber        int    `json:"line_number"`
	MatchType         string `json:"match_type"`
	ConversationID    int64  `json:"conversation_id"`
	Seq               int    `json:"seq"`
}

// Meta carries the optional diagnostic fields spec §6 lists under `_meta`.
type Meta struct {
	ElapsedMs        int64 `json:"elapsed_ms"`
	SearchMode       string `json:"search_mode"`
	WildcardFallback bool   `json:"wildcard_fallback,omitempty"`
	TokensEstimated  int    `json:"tokens_estimated,omitempty"`
}

// SearchOutput is the full --robot search payload of spec §6.
type SearchOutput struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
	Count        int    `json:"count"`
	TotalMatches int    `json:"total_matches"`
	Hits         []Hit  `json:"hits"`
	Meta         *Meta  `json:"_meta,omitempty"`
}

// WriteSearch renders out to w in the requested format.
func WriteSearch(w io.Writer, format Format, out SearchOutput) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatJSONL:
		return writeJSONL(w, out)
	case FormatCompact:
		return writeCompact(w, out)
	case FormatSessions:
		return writeSessions(w, out)
	default:
		return casserr.New(casserr.KindQuery, fmt.Sprintf("unknown robot format %q", format), "")
	}
}

func writeJSON(w io.Writer, out SearchOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// writeJSONL emits one JSON object per hit, with the envelope fields
// repeated on every line so each line is independently parseable.
func writeJSONL(w io.Writer, out SearchOutput) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	enc := json.NewEncoder(bw)
	type line struct {
		Query          string `json:"query"`
		Count          int    `json:"count"`
		TotalMatches   int    `json:"total_matches"`
		Hit            Hit    `json:"hit"`
	}
	if len(out.Hits) == 0 {
		return enc.Encode(struct {
			Query        string `json:"query"`
			Count        int    `json:"count"`
			TotalMatches int    `json:"total_matches"`
		}{out.Query, out.Count, out.TotalMatches})
	}
	for _, h := range out.Hits {
		if err := enc.Encode(line{Query: out.Query, Count: out.Count, TotalMatches: out.TotalMatches, Hit: h}); err != nil {
			return err
		}
	}
	return nil
}

// writeCompact emits one tab-separated line per hit: score, agent,
// conversation_id, seq, source_path, title — terse enough to grep/awk.
func writeCompact(w io.Writer, out SearchOutput) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	for _, h := range out.Hits {
		if _, err := fmt.Fprintf(bw, "%.4f\t%s\t%d\t%d\t%s\t%s\n", h.Score, h.Agent, h.ConversationID, h.Seq, h.SourcePath, h.Title); err != nil {
			return err
		}
	}
	return nil
}

// writeSessions emits one unique source_path per line, for piping into
// --sessions-from (spec §6).
func writeSessions(w io.Writer, out SearchOutput) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	seen := make(map[string]bool, len(out.Hits))
	for _, h := range out.Hits {
		if seen[h.SourcePath] {
			continue
		}
		seen[h.SourcePath] = true
		if _, err := fmt.Fprintln(bw, h.SourcePath); err != nil {
			return err
		}
	}
	return nil
}

// WriteError serializes a structured error to w per spec §7's
// {code, kind, message, hint, retryable} contract. casserr.Error already
// carries matching json tags; non-casserr errors are wrapped as KindIO
// so every --robot error path is valid JSON.
func WriteError(w io.Writer, err error) error {
	var e *casserr.Error
	if !errors.As(err, &e) {
		e = casserr.Wrap(casserr.KindIO, err, "")
	}
	enc := json.NewEncoder(w)
	return enc.Encode(e)
}
