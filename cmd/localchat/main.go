// localchat ingests a directory of PDFs into a local vector index and
// answers questions grounded in it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/spetr/localchat/builtin"
)

var (
	version   = "0.1.0"
	cfgFile   string
	rootDir   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "localchat",
	Short: "Chat with your PDF documents using local models",
	Long: `localchat ingests a directory of PDF documents into a local vector index
and answers questions grounded in the retrieved passages.

It supports:
- Incremental ingestion: only new or changed pages are embedded
- Embedding via Ollama, OpenAI-compatible APIs or plugins
- sqlite-vec or in-memory vector storage
- Semantic search from the CLI, a chat loop or an MCP server`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel, logFormat)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("localchat %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <dir>/.localchat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "C", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	ingestCmd.Flags().Bool("rebuild", false, "drop the index and ingest everything again")
	ingestCmd.Flags().Bool("quiet", false, "do not print progress")

	searchCmd.Flags().StringP("file", "f", "", "only search this file name")
	searchCmd.Flags().IntP("limit", "l", 0, "maximum results (default from config)")
	searchCmd.Flags().Bool("json", false, "print results as JSON")

	chatCmd.Flags().Bool("no-ingest", false, "skip ingestion before chatting")

	serveCmd.Flags().Bool("no-ingest", false, "skip ingestion at startup")
	serveCmd.Flags().Bool("watch", false, "re-ingest when documents change")

	watchCmd.Flags().Duration("debounce", 0, "quiet period before re-ingesting (default from config)")

	statusCmd.Flags().Bool("sources", false, "list ingested file names")

	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)
	pluginCmd.AddCommand(pluginListCmd, pluginLoadCmd)

	rootCmd.AddCommand(
		versionCmd,
		ingestCmd,
		searchCmd,
		chatCmd,
		serveCmd,
		watchCmd,
		statusCmd,
		clearCmd,
		configCmd,
		pluginCmd,
	)
}

func setupLogging(levelName, format string) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// fatal logs err and exits.
func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
