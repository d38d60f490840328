// Package opencode implements the Connector for OpenCode's session store,
// grounded on yashas-salankimatt-sidecar/internal/adapter/opencode
// (factory-registration idiom reused for this connector's registration in
// internal/connector's Registry).
package opencode

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the OpenCode connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentOpenCode,
		RelDirs: []string{".local/share/opencode/project", ".config/opencode/sessions"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, "message.json")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, filepath.Ext(base)) + "@" + filepath.Base(filepath.Dir(path))
		},
	})
}
