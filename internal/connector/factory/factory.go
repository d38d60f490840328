// Package factory implements the Connector for Factory CLI's session
// store. No pack example names Factory specifically (see DESIGN.md); this
// connector generalizes the JSONL shape shared by the other JSONL-based
// families to Factory's documented session directory.
package factory

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Factory connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentFactory,
		RelDirs: []string{".factory/sessions", ".config/factory/sessions"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, ".jsonl")
		},
	})
}
