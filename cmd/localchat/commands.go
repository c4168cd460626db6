package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spetr/localchat/internal/chat"
	"github.com/spetr/localchat/internal/config"
	"github.com/spetr/localchat/internal/ingest"
	"github.com/spetr/localchat/internal/mcp"
	"github.com/spetr/localchat/pkg/plugin/host"
	"github.com/spetr/localchat/pkg/types"
)

// docsDir overrides the configured documents directory.
var docsDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest new and changed documents",
	Long: `Ingest scans the document directory and brings the vector index up to date.
Only pages whose text changed are embedded again. Documents that disappeared
are removed from the index.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			docsDir = args[0]
		}
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		quiet, _ := cmd.Flags().GetBool("quiet")
		runIngest(cmd, rebuild, quiet)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search ingested documents",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		runSearch(cmd, strings.Join(args, " "), file, limit, asJSON)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with your documents",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		noIngest, _ := cmd.Flags().GetBool("no-ingest")
		runChat(cmd, noIngest)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server (stdio)",
	Long:  `Start the MCP server using stdio transport for integration with AI assistants.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		noIngest, _ := cmd.Flags().GetBool("no-ingest")
		watch, _ := cmd.Flags().GetBool("watch")
		runServe(cmd, noIngest, watch)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Re-ingest whenever documents change",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			docsDir = args[0]
		}
		runWatch(cmd)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		listSources, _ := cmd.Flags().GetBool("sources")
		runStatus(cmd, listSources)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the vector index and ingestion cache",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		runClear(cmd, yes)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root, err := resolveRoot()
		if err != nil {
			fatal("invalid project directory", err)
		}
		if _, err := os.Stat(config.ConfigPath(root)); err == nil {
			fmt.Printf("Config already exists: %s\n", config.ConfigPath(root))
			return
		}
		if err := config.Save(root, config.DefaultConfig()); err != nil {
			fatal("failed to write config", err)
		}
		fmt.Printf("Wrote %s\n", config.ConfigPath(root))
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if _, _, err := loadConfig(cmd); err != nil {
			fatal("configuration is invalid", err)
		}
		fmt.Println("Configuration is valid")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg, err := loadConfig(cmd)
		if err != nil {
			fatal("failed to load config", err)
		}
		out := cfg.Copy()
		if out.Embedding.APIKey != "" {
			out.Embedding.APIKey = "***"
		}
		if out.Chat.APIKey != "" {
			out.Chat.APIKey = "***"
		}
		data, err := yaml.Marshal(out)
		if err != nil {
			fatal("failed to encode config", err)
		}
		fmt.Print(string(data))
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage embedding plugins",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugins in the plugins directory",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runPluginList(cmd)
	},
}

var pluginLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Start a plugin and report its embedding dimensions",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runPluginLoad(cmd, args[0])
	},
}

func resolveRoot() (string, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(root); err != nil {
		return "", err
	}
	return root, nil
}

func runIngest(cmd *cobra.Command, rebuild, quiet bool) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, rebuild)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	var onProgress func(types.IngestProgress)
	if !quiet {
		onProgress = func(p types.IngestProgress) {
			fmt.Fprintf(os.Stderr, "\r[%s] Documents: %d/%d", p.Phase, p.Processed, p.Discovered)
		}
	}

	report, err := a.newIngestor(onProgress).Ingest(ctx, a.source)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("ingestion stopped by user")
			return
		}
		fatal("ingestion failed", err)
	}
	a.recordRun(report)

	printReport(report)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func printReport(report *types.IngestReport) {
	fmt.Println("Ingestion complete!")
	fmt.Printf("Documents: %d found, %d unchanged, %d updated, %d removed, %d failed\n",
		report.Discovered, report.Unchanged, report.Updated, report.Removed, report.Failed)
	fmt.Printf("Chunks:    %d added, %d removed\n", report.ChunksAdded, report.ChunksRemoved)
	fmt.Printf("Duration:  %s\n", report.Duration.Round(time.Millisecond))
	if err := report.Err(); err != nil {
		fmt.Printf("\nFailures:\n%v\n", err)
	}
}

func runSearch(cmd *cobra.Command, query, file string, limit int, asJSON bool) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, false)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	if limit == 0 {
		limit = a.cfg.Search.DefaultLimit
	}

	engine := a.newSearch()
	results, err := engine.Search(ctx, query, file, limit)
	if err != nil {
		fatal("search failed", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fatal("failed to encode results", err)
		}
		return
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		if file != "" {
			if names, err := engine.SuggestSources(ctx, file, 3); err == nil && len(names) > 0 {
				fmt.Printf("Did you mean: %s\n", strings.Join(names, ", "))
			}
		}
		return
	}

	for i, r := range results {
		fmt.Printf("\n=== Result %d (score: %.3f) ===\n", i+1, r.Score)
		fmt.Printf("File: %s, page %d\n", r.Record.SourceName, r.Record.Position)
		fmt.Printf("\n%s\n", r.Record.Text)
	}
}

// ingestOnStartup runs one pass and logs the outcome. Failures do not stop
// the caller: the existing index is still searchable.
func ingestOnStartup(ctx context.Context, a *app, in *ingest.Ingestor) {
	report, err := in.Ingest(ctx, a.source)
	if err != nil {
		slog.Warn("startup ingestion failed", "error", err)
		return
	}
	a.recordRun(report)
	logReport(report, nil)
}

func logReport(report *types.IngestReport, err error) {
	if err != nil {
		slog.Warn("ingestion failed", "error", err)
		return
	}
	slog.Info("ingestion complete",
		"run_id", report.RunID,
		"discovered", report.Discovered,
		"updated", report.Updated,
		"removed", report.Removed,
		"failed", report.Failed,
		"chunks_added", report.ChunksAdded,
		"chunks_removed", report.ChunksRemoved,
		"duration", report.Duration)
	if report.Failed > 0 {
		slog.Warn("some documents failed", "error", report.Err())
	}
}

func runChat(cmd *cobra.Command, noIngest bool) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, false)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	if a.cfg.Ingest.OnStartup && !noIngest {
		ingestOnStartup(ctx, a, a.newIngestor(nil))
	}

	session, err := chat.NewSession(chat.Config{
		Client:        chat.NewClient(a.cfg.Chat.Endpoint, a.cfg.Chat.APIKey),
		Searcher:      a.newSearch(),
		Model:         a.cfg.Chat.Model,
		MaxResults:    a.cfg.Chat.MaxResults,
		MaxToolRounds: a.cfg.Chat.MaxToolRounds,
		Timeout:       a.cfg.Chat.Timeout,
	})
	if err != nil {
		fatal("failed to start chat", err)
	}

	fmt.Printf("Chatting with %s about %s (/reset, /quit)\n", a.cfg.Chat.Model, a.source.Dir())
	if err := chat.RunREPL(ctx, session, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		fatal("chat failed", err)
	}
}

func runServe(cmd *cobra.Command, noIngest, watch bool) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, false)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	in := a.newIngestor(nil)
	if a.cfg.Ingest.OnStartup && !noIngest {
		ingestOnStartup(ctx, a, in)
	}

	if watch {
		w, err := a.newWatcher(in)
		if err != nil {
			fatal("failed to create watcher", err)
		}
		go func() {
			if err := w.Watch(ctx); err != nil {
				slog.Error("watcher stopped", "error", err)
			}
		}()
	}

	srv, err := mcp.New(mcp.Config{
		Name:         "localchat",
		Version:      version,
		Store:        a.store,
		Cache:        a.cache,
		Embedding:    a.embedding,
		Search:       a.newSearch(),
		Ingestor:     in,
		Source:       a.source,
		DefaultLimit: a.cfg.Search.DefaultLimit,
		DocumentsDir: a.source.Dir(),
		Include:      a.source.Includes,
	})
	if err != nil {
		fatal("failed to create server", err)
	}

	slog.Info("starting MCP server", "documents", a.source.Dir())
	if err := srv.ServeStdio(); err != nil {
		fatal("server error", err)
	}
}

func (a *app) newWatcher(in *ingest.Ingestor) (*ingest.Watcher, error) {
	return ingest.NewWatcher(ingest.WatcherConfig{
		Dir:      a.source.Dir(),
		Include:  a.source.Includes,
		Ingestor: in,
		Source:   a.source,
		OnReport: func(report *types.IngestReport, err error) {
			if err == nil {
				a.recordRun(report)
			}
			logReport(report, err)
		},
		Debounce: a.cfg.Ingest.WatchDebounce,
	})
}

func runWatch(cmd *cobra.Command) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, false)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	if d, _ := cmd.Flags().GetDuration("debounce"); d > 0 {
		a.cfg.Ingest.WatchDebounce = d
	}

	in := a.newIngestor(nil)
	ingestOnStartup(ctx, a, in)

	w, err := a.newWatcher(in)
	if err != nil {
		fatal("failed to create watcher", err)
	}
	if err := w.Watch(ctx); err != nil {
		fatal("watcher error", err)
	}
}

func runStatus(cmd *cobra.Command, listSources bool) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cmd, false)
	if err != nil {
		fatal("failed to open index", err)
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		fatal("failed to get stats", err)
	}
	cached, err := a.cache.ListSources(ctx)
	if err != nil {
		fatal("failed to read ingestion cache", err)
	}

	fmt.Println("=== Index Status ===")
	fmt.Printf("Documents dir: %s\n", a.source.Dir())
	fmt.Printf("Collection:    %s (%s)\n", stats.Collection, a.store.Name())
	fmt.Printf("Dimensions:    %d\n", stats.Dimensions)
	fmt.Printf("Documents:     %d cached, %d in store\n", len(cached), stats.Sources)
	fmt.Printf("Total chunks:  %d\n", stats.TotalChunks)
	fmt.Printf("Database size: %s\n", mcp.FormatBytes(stats.SizeBytes))
	if state, err := config.LoadState(a.root); err == nil && state != nil && !state.LastIngest.IsZero() {
		fmt.Printf("Last ingest:   %s (run %s)\n", state.LastIngest.Format("2006-01-02 15:04:05"), state.LastRunID)
	}

	fmt.Println("\n=== Configuration ===")
	fmt.Printf("Embedding:  %s/%s (breaker %s)\n", a.cfg.Embedding.Provider, a.cfg.Embedding.Model, a.embedding.State())
	fmt.Printf("Chunking:   %s\n", a.cfg.Chunking.Strategy)
	fmt.Printf("Chat model: %s at %s\n", a.cfg.Chat.Model, a.cfg.Chat.Endpoint)

	if listSources {
		names, err := a.newSearch().SourceNames(ctx)
		if err != nil {
			fatal("failed to list sources", err)
		}
		fmt.Println("\n=== Sources ===")
		for _, n := range names {
			fmt.Println(n)
		}
	}
}

func runClear(cmd *cobra.Command, yes bool) {
	root, cfg, err := loadConfig(cmd)
	if err != nil {
		fatal("failed to load config", err)
	}

	if !yes {
		fmt.Printf("Delete the index in %s? [y/N] ", config.ConfigDir(root))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return
		}
	}

	if err := removeIndex(root, cfg); err != nil {
		fatal("failed to clear index", err)
	}
	fmt.Println("Index cleared")
}

func runPluginList(cmd *cobra.Command) {
	root, cfg, err := loadConfig(cmd)
	if err != nil {
		fatal("failed to load config", err)
	}

	dir := cfg.PluginsDir(root)
	plugins, err := host.NewManager(dir, cfg.Logging.Level).DiscoverPlugins()
	if err != nil {
		fatal("failed to discover plugins", err)
	}
	if len(plugins) == 0 {
		fmt.Printf("No plugins found in %s\n", dir)
		return
	}

	fmt.Printf("Plugins in %s:\n", dir)
	for _, p := range plugins {
		marker := ""
		if cfg.Embedding.Provider == "plugin" && cfg.Embedding.Model == p {
			marker = " (active)"
		}
		fmt.Printf("  %s%s\n", p, marker)
	}
}

func runPluginLoad(cmd *cobra.Command, name string) {
	ctx, cancel := signalContext()
	defer cancel()

	root, cfg, err := loadConfig(cmd)
	if err != nil {
		fatal("failed to load config", err)
	}

	m := host.NewManager(cfg.PluginsDir(root), cfg.Logging.Level)
	defer m.UnloadAll()

	p, err := m.LoadEmbedding(name)
	if err != nil {
		fatal("failed to load plugin", err)
	}
	if err := p.Warmup(ctx); err != nil {
		slog.Warn("plugin warmup failed", "error", err)
	}
	fmt.Printf("Plugin:     %s\n", p.Name())
	fmt.Printf("Dimensions: %d\n", p.Dimensions())
	fmt.Printf("Batch size: %d\n", p.MaxBatchSize())
}
