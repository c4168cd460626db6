package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/spetr/localchat/builtin/embedding/guard"
	"github.com/spetr/localchat/builtin/source/pdfdir"
	"github.com/spetr/localchat/internal/config"
	"github.com/spetr/localchat/internal/ingest"
	"github.com/spetr/localchat/internal/search"
	"github.com/spetr/localchat/pkg/plugin/host"
	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

const warmupTimeout = 2 * time.Minute

// app holds the components shared by the commands.
type app struct {
	root string
	cfg  *config.Config

	embedding *guard.Provider
	store     provider.VectorStore
	cache     provider.IngestionCache
	chunker   provider.ChunkingStrategy
	source    *pdfdir.Source
	plugins   *host.Manager
}

// loadConfig resolves the project root and loads its configuration.
// Logging settings from the file apply unless given on the command line.
func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return "", nil, fmt.Errorf("invalid project directory: %w", err)
	}

	path := cfgFile
	if path == "" {
		path = config.ConfigPath(root)
	}
	cfg, warnings, err := config.LoadFile(root, path)
	if err != nil {
		return "", nil, err
	}

	level, format := logLevel, logFormat
	if !cmd.Flags().Changed("log-level") {
		level = cfg.Logging.Level
	}
	if !cmd.Flags().Changed("log-format") {
		format = cfg.Logging.Format
	}
	setupLogging(level, format)

	for _, w := range warnings {
		slog.Debug(w)
	}

	if docsDir != "" {
		dir, err := filepath.Abs(docsDir)
		if err != nil {
			return "", nil, fmt.Errorf("invalid documents directory: %w", err)
		}
		cfg.Source.Dir = dir
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		return "", nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return root, cfg, nil
}

// openApp loads configuration and opens every component. With rebuild set,
// or when the index was built with other settings, the index is dropped first.
func openApp(ctx context.Context, cmd *cobra.Command, rebuild bool) (*app, error) {
	root, cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.ConfigDir(root), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	a := &app{
		root:    root,
		cfg:     cfg,
		plugins: host.NewManager(cfg.PluginsDir(root), cfg.Logging.Level),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openEmbedding(ctx); err != nil {
		return nil, err
	}

	state, err := config.LoadState(root)
	if err != nil {
		slog.Warn("ignoring unreadable index state", "error", err)
	}
	switch {
	case rebuild:
		slog.Info("rebuilding index")
		if err := removeIndex(root, cfg); err != nil {
			return nil, err
		}
	case state != nil && state.ConfigHash != cfg.Hash():
		slog.Warn("index settings changed, rebuilding index",
			"was_model", state.EmbeddingModel, "model", cfg.Embedding.Model)
		if err := removeIndex(root, cfg); err != nil {
			return nil, err
		}
	}

	reg := provider.DefaultRegistry

	a.store, err = reg.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider:   cfg.VectorStore.Provider,
		Path:       cfg.StorePath(root),
		Collection: cfg.VectorStore.Collection,
	})
	if err != nil {
		return nil, err
	}
	dims := a.embedding.Dimensions()
	if err := a.store.Init(ctx, dims); err != nil {
		if errors.Is(err, types.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w (run 'localchat clear' or 'localchat ingest --rebuild')", err)
		}
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	a.cache, err = reg.CreateCache(cfg.Cache.Provider, provider.CacheConfig{
		Provider: cfg.Cache.Provider,
		Path:     cfg.CachePath(root),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ingestion cache: %w", err)
	}

	a.chunker, err = reg.CreateChunking(cfg.Chunking.Strategy, provider.ChunkingConfig{
		Strategy:     cfg.Chunking.Strategy,
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
	})
	if err != nil {
		return nil, err
	}

	maxSize, _ := config.ParseSize(cfg.Source.MaxFileSize)
	src, err := reg.CreateSource(cfg.Source.Provider, provider.SourceConfig{
		Provider:    cfg.Source.Provider,
		Dir:         cfg.SourceDir(root),
		Include:     cfg.Source.Include,
		MaxFileSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	pdf, isPDF := src.(*pdfdir.Source)
	if !isPDF {
		return nil, fmt.Errorf("%w: unsupported source %s", types.ErrInvalidConfig, src.Name())
	}
	a.source = pdf

	if state == nil || state.ConfigHash != cfg.Hash() || rebuild {
		state = &config.State{}
	}
	state.ConfigHash = cfg.Hash()
	state.EmbeddingModel = cfg.Embedding.Model
	state.Dimensions = dims
	if err := config.SaveState(root, state); err != nil {
		slog.Warn("failed to save index state", "error", err)
	}

	ok = true
	return a, nil
}

// openEmbedding creates the configured embedding provider, guards it and
// warms it up so the real vector dimension is known.
func (a *app) openEmbedding(ctx context.Context) error {
	cfg := a.cfg.Embedding

	var (
		p   provider.EmbeddingProvider
		err error
	)
	if cfg.Provider == "plugin" {
		p, err = a.plugins.LoadEmbedding(cfg.Model)
	} else {
		p, err = provider.DefaultRegistry.CreateEmbedding(cfg.Provider, provider.EmbeddingConfig{
			Provider:   cfg.Provider,
			Model:      cfg.Model,
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			BatchSize:  cfg.BatchSize,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	a.embedding = guard.Wrap(p, guard.Config{
		Timeout:           cfg.Timeout,
		FailureThreshold:  cfg.FailureThreshold,
		OpenTimeout:       cfg.BreakerCooldown,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	wctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	if err := a.embedding.Warmup(wctx); err != nil {
		slog.Warn("embedding warmup failed, using configured dimensions",
			"provider", a.embedding.Name(), "dimensions", a.embedding.Dimensions(), "error", err)
	}
	return nil
}

func (a *app) newIngestor(onProgress func(types.IngestProgress)) *ingest.Ingestor {
	return ingest.New(ingest.Config{
		Store:         a.store,
		Cache:         a.cache,
		Embedding:     a.embedding,
		Chunker:       a.chunker,
		OnProgress:    onProgress,
		Workers:       a.cfg.Ingest.Workers,
		SourceTimeout: a.cfg.Ingest.SourceTimeout,
		Retries:       a.cfg.Ingest.Retries,
	})
}

func (a *app) newSearch() *search.Engine {
	return search.New(search.Config{
		Store:     a.store,
		Embedding: a.embedding,
		Timeout:   a.cfg.Search.Timeout,
	})
}

// recordRun stores the id and time of a finished ingestion pass.
func (a *app) recordRun(report *types.IngestReport) {
	state, err := config.LoadState(a.root)
	if err != nil || state == nil {
		state = &config.State{
			ConfigHash:     a.cfg.Hash(),
			EmbeddingModel: a.cfg.Embedding.Model,
			Dimensions:     a.store.Dimensions(),
		}
	}
	state.LastRunID = report.RunID
	state.LastIngest = time.Now()
	if err := config.SaveState(a.root, state); err != nil {
		slog.Warn("failed to save index state", "error", err)
	}
}

// Close releases every opened component.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("failed to close ingestion cache", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close vector store", "error", err)
		}
	}
	if a.embedding != nil {
		a.embedding.Close()
	}
	if a.plugins != nil {
		a.plugins.UnloadAll()
	}
}

// removeIndex deletes the vector store, the ingestion cache and the index
// state. It works on files so a store built with other dimensions can go too.
func removeIndex(root string, cfg *config.Config) error {
	var paths []string
	if p := cfg.StorePath(root); p != "" {
		paths = append(paths, p, p+"-wal", p+"-shm")
	}
	if cfg.Cache.Provider == "sqlite" {
		p := cfg.CachePath(root)
		paths = append(paths, p, p+"-wal", p+"-shm")
	}
	paths = append(paths, config.StatePath(root))

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
