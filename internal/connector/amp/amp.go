// Package amp implements the Connector for Amp's JSONL thread logs,
// grounded on yashas-salankimatt-sidecar/internal/adapter/amp.
package amp

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Amp connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentAmp,
		RelDirs: []string{".amp/threads", ".config/amp/threads"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, ".jsonl")
		},
	})
}
