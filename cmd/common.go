package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/database/bolt"
	"github.com/kozaktomas/face-search/internal/database/mariadb"
	"github.com/kozaktomas/face-search/internal/database/mock"
	"github.com/kozaktomas/face-search/internal/database/postgres"
	"github.com/kozaktomas/face-search/internal/engine"
	"github.com/kozaktomas/face-search/internal/indexer"
)

// registerBackends makes every store backend available to database.Open.
// Backends register here rather than in init() to keep the database package
// free of driver imports.
func registerBackends() {
	database.RegisterBackend(config.BackendBolt, bolt.Open)
	database.RegisterBackend(config.BackendPostgres, postgres.Open)
	database.RegisterBackend(config.BackendMariaDB, mariadb.Open)
	database.RegisterBackend(config.BackendMemory, mock.Open)
}

// loadConfig loads the configuration and builds the logger, applying the
// --log-level override.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// app is an opened store behind a started engine.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *engine.Engine
	pipeline *indexer.Pipeline
}

// openApp opens the configured store and starts the engine. The caller must
// call shutdown.
func openApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := indexer.NewPipeline(cfg.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("building extraction pipeline: %w", err)
	}

	registerBackends()
	store, err := database.Open(ctx, &cfg.Store, pipeline.Layout(), logger)
	if err != nil {
		return nil, err
	}

	e := engine.New(store,
		engine.WithLogger(logger),
		engine.WithBackend(cfg.Store.Backend),
		engine.WithIndexer(indexer.NewFaceIndexer(pipeline, indexer.WithLogger(logger))),
	)
	if err := e.Start(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, engine: e, pipeline: pipeline}, nil
}

// shutdown drains the engine and closes the store.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := a.engine.Shutdown(ctx); err != nil {
		a.logger.Error("engine shutdown", "error", err)
	}
}

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetFloat64 gets a float64 flag value or panics if the flag doesn't exist.
func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}
