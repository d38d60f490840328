// Package codex implements the Connector for Codex CLI's JSONL session
// logs under ~/.codex/sessions, grounded on
// yashas-salankimatt-sidecar/internal/adapter/codex.
package codex

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Codex CLI connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentCodex,
		RelDirs: []string{".codex/sessions"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, ".jsonl")
		},
	})
}
