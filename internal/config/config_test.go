package config

import (
	"testing"

	"github.com/cass-dev/cass/pkg/model"
)

func TestValidateRejectsBadRobotFormat(t *testing.T) {
	cfg := &Config{RobotFormat: "xml", ParallelSearch: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an unknown robot_format")
	}
}

func TestValidateRejectsNonPositiveParallelSearch(t *testing.T) {
	cfg := &Config{RobotFormat: "json", ParallelSearch: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject parallel_search <= 0")
	}
}

func TestValidateRejectsSourceWithoutRoot(t *testing.T) {
	cfg := &Config{
		RobotFormat:    "json",
		ParallelSearch: 1,
		Sources:        []SourceConfig{{Name: "claude"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a source with an empty root")
	}
}

func TestToModelConvertsAgentsAndPathMappings(t *testing.T) {
	cfg := &Config{
		Sources: []SourceConfig{
			{
				Name:         "claude",
				Root:         "/home/user/.claude/projects",
				AgentFilters: []string{"claudecode"},
				PathMappings: []PathMappingConfig{
					{From: "/home/user/work", To: "/workspace", Agents: []string{"claudecode"}},
				},
			},
		},
	}

	sources := cfg.ToModel()
	if len(sources) != 1 {
		t.Fatalf("len(sources) = %d, want 1", len(sources))
	}
	s := sources[0]
	if s.Name != "claude" || s.Root != "/home/user/.claude/projects" {
		t.Errorf("unexpected source: %+v", s)
	}
	if len(s.AgentFilters) != 1 || s.AgentFilters[0] != model.AgentClaudeCode {
		t.Errorf("AgentFilters = %+v, want [claudecode]", s.AgentFilters)
	}
	if len(s.PathMappings) != 1 || s.PathMappings[0].From != "/home/user/work" {
		t.Errorf("PathMappings = %+v", s.PathMappings)
	}
}

func TestDataDirDerivedPathsAreNested(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/cass-data"}
	if cfg.LexicalIndexDir() != "/tmp/cass-data/lexical" {
		t.Errorf("LexicalIndexDir() = %q", cfg.LexicalIndexDir())
	}
	if cfg.VectorIndexDir() != "/tmp/cass-data/vector" {
		t.Errorf("VectorIndexDir() = %q", cfg.VectorIndexDir())
	}
	if cfg.VectorShardPath() != "/tmp/cass-data/vector/shard.bin" {
		t.Errorf("VectorShardPath() = %q", cfg.VectorShardPath())
	}
}
