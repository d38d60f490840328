package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/cass-dev/cass/internal/casserr"
	"github.com/cass-dev/cass/internal/catalog"
	"github.com/cass-dev/cass/internal/config"
	"github.com/cass-dev/cass/internal/connector"
	"github.com/cass-dev/cass/internal/connector/builtin"
	"github.com/cass-dev/cass/internal/controller"
	"github.com/cass-dev/cass/internal/embedder"
	"github.com/cass-dev/cass/internal/logging"
	"github.com/cass-dev/cass/internal/normalizer"
	"github.com/cass-dev/cass/internal/reranker"
	"github.com/cass-dev/cass/internal/telemetry"
	"github.com/cass-dev/cass/pkg/model"
)

// app bundles every wired collaborator a cass subcommand needs, mirroring
// cmd/contextd/main.go's dependencies-struct-with-Close() idiom,
// generalized from an HTTP server's long-lived daemon deps to a CLI
// invocation's short-lived ones.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	catalog    *catalog.Store
	connectors *connector.Registry
	normalizer *normalizer.Normalizer
	embedders  *embedder.Registry
	rerankers  *reranker.Registry
	controller *controller.Controller
}

// buildApp loads configuration and wires every dependency a command might
// need. Every command that calls it opens the catalog, even one that does
// not use it; CASS is a short-lived CLI so this mirrors
// the teacher's eager-wiring style rather than lazy per-command init.
func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "check --config or CASS_* environment variables")
	}
	if err := config.EnsureDataDir(cfg); err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "")
	}

	logCfg := logging.NewDefaultConfig()
	if globalNoColor || cfg.NoColor {
		logCfg.Format = "json"
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "constructing logger")
	}

	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "constructing telemetry provider")
	}

	store, err := catalog.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "opening catalog database")
	}

	connectors := builtin.NewRegistry()

	pathMappingsBySource := make(map[string][]model.PathMapping)
	for _, s := range cfg.ToModel() {
		if len(s.PathMappings) > 0 {
			pathMappingsBySource[s.Name] = s.PathMappings
		}
	}
	norm := normalizer.New(pathMappingsBySource)

	embedders := embedder.NewRegistry()
	if minilm, err := embedder.NewMiniLM(cfg.DataDir); err == nil {
		embedders.Register(minilm)
	} else {
		logger.Debug(ctx, "minilm embedder unavailable, using hash fallback", zap.Error(err))
	}
	if cfg.Embedder != "" && cfg.Embedder != "hash" {
		if err := embedders.SetActive(cfg.Embedder); err != nil {
			logger.Warn(ctx, "configured embedder unavailable, falling back to hash", zap.String("embedder", cfg.Embedder), zap.Error(err))
		}
	}

	rerankers := reranker.NewRegistry()
	rerankers.Register(reranker.NewSimple())

	ctrl := controller.New(controller.Deps{
		Catalog:         store,
		Connectors:      connectors,
		Normalizer:      norm,
		Embedders:       embedders,
		VectorIndexPath: cfg.VectorShardPath(),
		Logger:          logger.Underlying(),
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		telemetry:  tel,
		catalog:    store,
		connectors: connectors,
		normalizer: norm,
		embedders:  embedders,
		rerankers:  rerankers,
		controller: ctrl,
	}, nil
}

// Close releases every resource buildApp acquired, best-effort, mirroring
// the teacher's dependencies.Close().
func (a *app) Close() {
	if a.catalog != nil {
		_ = a.catalog.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
