// Package claudecode implements the Connector for Claude Code's JSONL
// session transcripts, grounded on
// yashas-salankimatt-sidecar/internal/adapter/claudecode/adapter.go (the
// project-directory path-hash encoding and the XDG vs legacy directory
// migration) and fyrsmithlabs-contextd/internal/conversation/parser.go
// (tolerant line-by-line decode).
package claudecode

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Claude Code connector.
func New() connector.Connector {
	c := jsonl.New(jsonl.Config{
		Agent: model.AgentClaudeCode,
		RelDirs: []string{
			filepath.Join(".config", "claude", "projects"), // XDG location
			".claude/projects",                              // legacy location
		},
		FileMatch: func(path string) bool { return strings.HasSuffix(path, ".jsonl") },
		EntryIsMessage: func(r connector.Record) bool {
			t := connector.ExtractRole(r)
			return t == "user" || t == "assistant"
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, ".jsonl")
		},
	})
	return &withWorkspaceFallback{Connector: c}
}

// withWorkspaceFallback decodes Claude Code's project-directory path
// encoding (slashes/dots/underscores -> dashes) into a best-effort
// workspace path when no in-content workspace metadata was found, per
// spec §4.1 ("Workspace inference... pull from session metadata keys...").
type withWorkspaceFallback struct {
	connector.Connector
}

func (w *withWorkspaceFallback) ID() model.Agent { return model.AgentClaudeCode }

func (w *withWorkspaceFallback) Scan(ctx context.Context, roots []string) (<-chan connector.ScanResult, error) {
	inner, err := w.Connector.Scan(ctx, roots)
	if err != nil {
		return nil, err
	}
	out := make(chan connector.ScanResult)
	go func() {
		defer close(out)
		for res := range inner {
			if res.Conversation != nil && res.Conversation.Workspace == "" {
				res.Conversation.Workspace = decodeProjectDir(filepath.Dir(res.Conversation.SourcePath))
			}
			out <- res
		}
	}()
	return out, nil
}

// decodeProjectDir reverses Claude Code's directory-name encoding:
// "/" "." and "_" are all folded to "-" when the project path becomes a
// directory name under .claude/projects. The reverse mapping is lossy (a
// literal "-" in the original path is indistinguishable from an encoded
// separator) so this is a best-effort decode, matching how the real
// encoding is consumed downstream — it only needs to be a plausible
// workspace label, not a byte-exact round trip.
func decodeProjectDir(dir string) string {
	name := filepath.Base(dir)
	name = strings.TrimPrefix(name, "-")
	parts := strings.Split(name, "-")
	return "/" + strings.Join(parts, "/")
}
