package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cass-dev/cass/pkg/model"
)

func TestNewRegistryRegistersEveryAgentFamily(t *testing.T) {
	r := NewRegistry()
	want := []model.Agent{
		model.AgentClaudeCode, model.AgentCodex, model.AgentGemini, model.AgentCline,
		model.AgentAmp, model.AgentAider, model.AgentOpenCode, model.AgentPiAgent,
		model.AgentFactory, model.AgentCursor,
	}
	for _, agent := range want {
		conn, ok := r.New(agent)
		require.True(t, ok, "expected a registered connector for %s", agent)
		assert.Equal(t, agent, conn.ID())
	}
	assert.ElementsMatch(t, want, r.Agents())
}

func TestNewRegistryRejectsUnknownAgent(t *testing.T) {
	r := NewRegistry()
	_, ok := r.New(model.Agent("not-a-real-agent"))
	assert.False(t, ok)
}
