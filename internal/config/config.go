// Package config loads CASS's configuration: the data directory layout,
// the configured sources, embedder/search tuning knobs, and --robot
// output defaults (spec §6). Grounded on
// fyrsmithlabs-contextd/internal/config's koanf-layered
// YAML-then-environment loading and config-file path/permission
// validation, with the Config struct itself replaced end to end: this
// is a single flat CLI config, not a multi-service server config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cass-dev/cass/pkg/model"
)

// Config is CASS's full runtime configuration (spec §6).
type Config struct {
	DataDir string `koanf:"data_dir"`
	DBPath  string `koanf:"db_path"`

	NoColor        bool   `koanf:"no_color"`
	RobotFormat    string `koanf:"robot_format"` // json|jsonl|compact|sessions
	CacheShardCap  int    `koanf:"cache_shard_cap"`
	CacheTotalCap  int    `koanf:"cache_total_cap"`
	CacheByteCap   int64  `koanf:"cache_byte_cap"`
	ParallelSearch int    `koanf:"parallel_search"`
	WarmDebounceMs int    `koanf:"warm_debounce_ms"`

	Embedder string         `koanf:"embedder"` // "hash" or "minilm"
	Sources  []SourceConfig `koanf:"sources"`
}

// SourceConfig is the YAML-facing shape of a model.Source: plain strings
// and string slices that decode cleanly via koanf, converted to
// model.Source by ToModel.
type SourceConfig struct {
	Name         string              `koanf:"name"`
	Root         string              `koanf:"root"`
	AgentFilters []string            `koanf:"agents"`
	PathMappings []PathMappingConfig `koanf:"path_mappings"`
}

// PathMappingConfig is the YAML-facing shape of a model.PathMapping.
type PathMappingConfig struct {
	From   string   `koanf:"from"`
	To     string   `koanf:"to"`
	Agents []string `koanf:"agents"`
}

// ToModel converts every SourceConfig into a model.Source.
func (c *Config) ToModel() []model.Source {
	out := make([]model.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, model.Source{
			Name:         s.Name,
			Root:         s.Root,
			AgentFilters: toAgents(s.AgentFilters),
			PathMappings: toPathMappings(s.PathMappings),
		})
	}
	return out
}

func toAgents(names []string) []model.Agent {
	if len(names) == 0 {
		return nil
	}
	out := make([]model.Agent, len(names))
	for i, n := range names {
		out[i] = model.Agent(n)
	}
	return out
}

func toPathMappings(cfgs []PathMappingConfig) []model.PathMapping {
	if len(cfgs) == 0 {
		return nil
	}
	out := make([]model.PathMapping, len(cfgs))
	for i, c := range cfgs {
		out[i] = model.PathMapping{From: c.From, To: c.To, Agents: toAgents(c.Agents)}
	}
	return out
}

// Validate checks invariants the loader's defaults can't guarantee on
// their own (e.g. user-supplied YAML naming a source twice).
func (c *Config) Validate() error {
	if c.RobotFormat != "json" && c.RobotFormat != "jsonl" && c.RobotFormat != "compact" && c.RobotFormat != "sessions" {
		return fmt.Errorf("invalid robot_format %q (want json, jsonl, compact, or sessions)", c.RobotFormat)
	}
	if c.ParallelSearch <= 0 {
		return fmt.Errorf("parallel_search must be positive, got %d", c.ParallelSearch)
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Root == "" {
			return fmt.Errorf("source %q has empty root", s.Name)
		}
	}
	return nil
}

// applyDefaults fills every field the loader didn't set from YAML/env,
// resolving DataDir/DBPath against XDG_DATA_HOME per spec §6.
func applyDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		base, err := xdgDataHome()
		if err != nil {
			return err
		}
		cfg.DataDir = filepath.Join(base, "cass")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "catalog.db")
	}
	if cfg.RobotFormat == "" {
		cfg.RobotFormat = "json"
	}
	if cfg.CacheShardCap == 0 {
		cfg.CacheShardCap = 8
	}
	if cfg.CacheTotalCap == 0 {
		cfg.CacheTotalCap = 64
	}
	if cfg.CacheByteCap == 0 {
		cfg.CacheByteCap = 256 * 1024 * 1024
	}
	if cfg.ParallelSearch == 0 {
		cfg.ParallelSearch = runtime.GOMAXPROCS(0)
	}
	if cfg.WarmDebounceMs == 0 {
		cfg.WarmDebounceMs = 2000
	}
	if cfg.Embedder == "" {
		cfg.Embedder = "hash"
	}
	return nil
}

// xdgDataHome resolves XDG_DATA_HOME, falling back to ~/.local/share
// per the XDG base directory specification spec §6 references.
func xdgDataHome() (string, error) {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// LexicalIndexDir, VectorIndexDir, and WatcherStatePath locate the three
// on-disk components of Storage (spec §6, "catalog storage layout").
func (c *Config) LexicalIndexDir() string  { return filepath.Join(c.DataDir, "lexical") }
func (c *Config) VectorIndexDir() string   { return filepath.Join(c.DataDir, "vector") }
func (c *Config) VectorShardPath() string  { return filepath.Join(c.VectorIndexDir(), "shard.bin") }
func (c *Config) WatcherStatePath() string { return filepath.Join(c.DataDir, "watcher-state.json") }

// EnsureDataDir creates DataDir (and its vector/lexical subdirectories)
// with owner-only permissions, mirroring the teacher's EnsureConfigDir.
func EnsureDataDir(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.LexicalIndexDir(), cfg.VectorIndexDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
