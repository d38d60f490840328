package config

import (
	"os"
	"path/filepath"
	"testing"
)

// setupTestHome creates a temporary home directory for testing and points
// HOME/XDG_DATA_HOME at it so Load's defaults land inside t.TempDir().
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()

	origHome, hadHome := os.LookupEnv("HOME")
	origXDG, hadXDG := os.LookupEnv("XDG_DATA_HOME")
	os.Setenv("HOME", tmpHome)
	os.Unsetenv("XDG_DATA_HOME")

	t.Cleanup(func() {
		if hadHome {
			os.Setenv("HOME", origHome)
		} else {
			os.Unsetenv("HOME")
		}
		if hadXDG {
			os.Setenv("XDG_DATA_HOME", origXDG)
		} else {
			os.Unsetenv("XDG_DATA_HOME")
		}
	})
	return tmpHome
}

func writeConfigFile(t *testing.T, home, content string) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "cass")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaultsWithNoFile(t *testing.T) {
	home := setupTestHome(t)

	cfg, err := Load(filepath.Join(home, ".config", "cass", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.RobotFormat != "json" {
		t.Errorf("RobotFormat = %q, want json", cfg.RobotFormat)
	}
	if cfg.Embedder != "hash" {
		t.Errorf("Embedder = %q, want hash", cfg.Embedder)
	}
	if cfg.DataDir == "" || cfg.DBPath == "" {
		t.Error("DataDir/DBPath should have defaults")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfigFile(t, home, `
data_dir: /tmp/cass-test-data
embedder: minilm
sources:
  - name: claude
    root: /home/user/.claude/projects
    agents: [claudecode]
  - name: codex
    root: /home/user/.codex/sessions
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.DataDir != "/tmp/cass-test-data" {
		t.Errorf("DataDir = %q, want /tmp/cass-test-data", cfg.DataDir)
	}
	if cfg.Embedder != "minilm" {
		t.Errorf("Embedder = %q, want minilm", cfg.Embedder)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}

	sources := cfg.ToModel()
	if sources[0].Name != "claude" || len(sources[0].AgentFilters) != 1 {
		t.Errorf("unexpected first source: %+v", sources[0])
	}
}

func TestLoadEnvironmentOverridesYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfigFile(t, home, `
data_dir: /tmp/cass-test-data
`)

	os.Setenv("CASS_DATA_DIR", "/tmp/cass-env-override")
	defer os.Unsetenv("CASS_DATA_DIR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.DataDir != "/tmp/cass-env-override" {
		t.Errorf("DataDir = %q, want env override to win", cfg.DataDir)
	}
}

func TestLoadRejectsInsecureFilePermissions(t *testing.T) {
	home := setupTestHome(t)
	dir := filepath.Join(home, ".config", "cass")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: /tmp/x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected Load to reject a world-readable config file")
	}
}

func TestLoadRejectsDuplicateSourceNames(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfigFile(t, home, `
sources:
  - name: claude
    root: /a
  - name: claude
    root: /b
`)

	if _, err := Load(path); err == nil {
		t.Error("expected Load to reject duplicate source names")
	}
}
