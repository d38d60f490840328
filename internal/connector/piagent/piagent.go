// Package piagent implements the Connector for Pi-Agent's session store,
// grounded on yashas-salankimatt-sidecar/internal/adapter/pi.
package piagent

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Pi-Agent connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentPiAgent,
		RelDirs: []string{".pi/agent/sessions"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, ".jsonl")
		},
	})
}
