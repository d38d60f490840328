// Package gemini implements the Connector for Gemini CLI's session
// checkpoint logs, grounded on
// yashas-salankimatt-sidecar/internal/adapter/geminicli.
package gemini

import (
	"path/filepath"
	"strings"

	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/jsonl"
	"github.com/cass-dev/cass/pkg/model"
)

// New returns the Gemini CLI connector.
func New() connector.Connector {
	return jsonl.New(jsonl.Config{
		Agent:   model.AgentGemini,
		RelDirs: []string{".gemini/tmp", ".config/gemini/sessions"},
		FileMatch: func(path string) bool {
			return strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, "logs.json")
		},
		ExternalID: func(path string) string {
			base := filepath.Base(path)
			return strings.TrimSuffix(base, filepath.Ext(base)) + "@" + filepath.Base(filepath.Dir(path))
		},
	})
}
