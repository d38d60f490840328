// Package builtin registers every shipped agent connector into a
// connector.Registry. It is the single place that imports all ten
// per-agent subpackages, keeping each of them free to depend only on
// internal/connector (spec §9, "a registry maps agent names to
// factories").
package builtin

import (
	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/aider"
	"github.com/cass-dev/cass/internal/connector/amp"
	"github.com/cass-dev/cass/internal/connector/claudecode"
	"github.com/cass-dev/cass/internal/connector/cline"
	"github.com/cass-dev/cass/internal/connector/codex"
	"github.com/cass-dev/cass/internal/connector/cursor"
	"github.com/cass-dev/cass/internal/connector/factory"
	"github.com/cass-dev/cass/internal/connector/gemini"
	"github.com/cass-dev/cass/internal/connector/opencode"
	"github.com/cass-dev/cass/internal/connector/piagent"
	"github.com/cass-dev/cass/pkg/model"
)

// RegisterAll populates r with every agent family CASS ships support for.
func RegisterAll(r *connector.Registry) {
	r.Register(model.AgentClaudeCode, claudecode.New)
	r.Register(model.AgentCodex, codex.New)
	r.Register(model.AgentGemini, gemini.New)
	r.Register(model.AgentCline, cline.New)
	r.Register(model.AgentAmp, amp.New)
	r.Register(model.AgentAider, aider.New)
	r.Register(model.AgentOpenCode, opencode.New)
	r.Register(model.AgentPiAgent, piagent.New)
	r.Register(model.AgentFactory, factory.New)
	r.Register(model.AgentCursor, cursor.New)
}

// NewRegistry builds a registry with every builtin connector registered.
func NewRegistry() *connector.Registry {
	r := connector.NewRegistry()
	RegisterAll(r)
	return r
}
