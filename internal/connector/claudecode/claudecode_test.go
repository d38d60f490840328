package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cass-dev/cass/pkg/model"
)

func TestDecodeProjectDirReversesDashEncoding(t *testing.T) {
	got := decodeProjectDir("/home/user/.claude/projects/-Users-alice-code-myproject")
	assert.Equal(t, "/Users/alice/code/myproject", got)
}

func TestNewAssignsClaudeCodeAgent(t *testing.T) {
	c := New()
	assert.Equal(t, model.AgentClaudeCode, c.ID())
}

func TestScanFillsWorkspaceFromProjectDirWhenMetadataAbsent(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, ".claude", "projects", "-Users-alice-code-myproject")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	sessionPath := filepath.Join(projectDir, "session1.jsonl")
	require.NoError(t, os.WriteFile(sessionPath,
		[]byte(`{"role":"user","content":"hello","created_at":"2024-01-01T00:00:00Z"}`+"\n"), 0o644))

	c := New()
	results, err := c.Scan(context.Background(), []string{root})
	require.NoError(t, err)
	var convs []*model.Conversation
	for r := range results {
		require.Nil(t, r.Err)
		convs = append(convs, r.Conversation)
	}
	require.Len(t, convs, 1)
	assert.Equal(t, "/Users/alice/code/myproject", convs[0].Workspace)
}

func TestScanPrefersInContentWorkspaceOverDirDecode(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, ".claude", "projects", "-Users-alice-code-myproject")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	sessionPath := filepath.Join(projectDir, "session2.jsonl")
	require.NoError(t, os.WriteFile(sessionPath,
		[]byte(`{"cwd":"/explicit/workspace","role":"user","content":"hello","created_at":"2024-01-01T00:00:00Z"}`+"\n"), 0o644))

	c := New()
	results, err := c.Scan(context.Background(), []string{root})
	require.NoError(t, err)
	var convs []*model.Conversation
	for r := range results {
		require.Nil(t, r.Err)
		convs = append(convs, r.Conversation)
	}
	require.Len(t, convs, 1)
	assert.Equal(t, "/explicit/workspace", convs[0].Workspace)
}
