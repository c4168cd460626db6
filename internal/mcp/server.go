// Package mcp implements the MCP server for document search.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/localchat/internal/ingest"
	"github.com/spetr/localchat/internal/search"
	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// DefaultLimit is the search limit when the caller gives none.
const DefaultLimit = 5

// Server implements the MCP server.
type Server struct {
	mcpServer    *server.MCPServer
	store        provider.VectorStore
	cache        provider.IngestionCache
	embedding    provider.EmbeddingProvider
	search       *search.Engine
	ingestor     *ingest.Ingestor
	source       provider.Source
	defaultLimit int

	docsDir string
	include func(relPath string) bool
}

// Config contains server configuration.
type Config struct {
	Name         string
	Version      string
	Store        provider.VectorStore
	Cache        provider.IngestionCache
	Embedding    provider.EmbeddingProvider
	Search       *search.Engine
	Ingestor     *ingest.Ingestor // optional, enables the ingest tool
	Source       provider.Source  // required with Ingestor
	DefaultLimit int

	DocumentsDir string                    // optional, enables the document_tree tool
	Include      func(relPath string) bool // files shown in the tree, nil shows all
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Search == nil {
		return nil, fmt.Errorf("%w: mcp server needs a store and a search engine", types.ErrInvalidConfig)
	}
	if cfg.Ingestor != nil && cfg.Source == nil {
		return nil, fmt.Errorf("%w: ingest tool needs a source", types.ErrInvalidConfig)
	}
	if cfg.Name == "" {
		cfg.Name = "localchat"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}

	s := &Server{
		store:        cfg.Store,
		cache:        cfg.Cache,
		embedding:    cfg.Embedding,
		search:       cfg.Search,
		ingestor:     cfg.Ingestor,
		source:       cfg.Source,
		defaultLimit: cfg.DefaultLimit,
		docsDir:      cfg.DocumentsDir,
		include:      cfg.Include,
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithLogging(),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search ingested documents by meaning. Returns matching passages with file name and page number."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Phrase or question to search for")),
		mcp.WithString("filename", mcp.Description("Restrict results to this file name (e.g. report.pdf)")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum results (default %d)", s.defaultLimit))),
	), s.handleSearch)

	mcpServer.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the file names of ingested documents"),
	), s.handleListSources)

	mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get vector store and ingestion cache statistics"),
	), s.handleGetStatus)

	if s.docsDir != "" {
		mcpServer.AddTool(mcp.NewTool("document_tree",
			mcp.WithDescription("Show the documents directory with the ingestion state and chunk count of each file"),
			mcp.WithString("path", mcp.Description("Subdirectory relative to the documents dir")),
			mcp.WithNumber("depth", mcp.Description("Maximum depth (default 5)")),
			mcp.WithString("format", mcp.Description("Output format"), mcp.Enum("json", "text")),
		), s.handleDocumentTree)
	}

	if s.ingestor != nil {
		mcpServer.AddTool(mcp.NewTool("ingest",
			mcp.WithDescription("Re-ingest the document directory. Only new or changed pages are embedded."),
		), s.handleIngest)
	}
}

// Tool handlers

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	filename := req.GetString("filename", "")
	limit := req.GetInt("limit", s.defaultLimit)

	results, err := s.search.Search(ctx, query, filename, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	formatted := make([]map[string]any, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, map[string]any{
			"key":         r.Record.Key,
			"filename":    r.Record.SourceName,
			"page_number": r.Record.Position,
			"score":       r.Score,
			"text":        r.Record.Text,
		})
	}

	result := map[string]any{"results": formatted}
	if len(results) == 0 && filename != "" {
		if names, err := s.search.SuggestSources(ctx, filename, 3); err == nil && len(names) > 0 {
			result["did_you_mean"] = names
		}
	}

	return jsonResult(result)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.search.SourceNames(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sources: %v", err)), nil
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(map[string]any{"sources": names})
}

func (s *Server) handleGetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}

	result := map[string]any{
		"vector_store": s.store.Name(),
		"collection":   stats.Collection,
		"dimensions":   stats.Dimensions,
		"total_chunks": stats.TotalChunks,
		"sources":      stats.Sources,
		"size":         FormatBytes(stats.SizeBytes),
	}
	if s.embedding != nil {
		result["embedding"] = s.embedding.Name()
	}
	if s.cache != nil {
		ids, err := s.cache.ListSources(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read ingestion cache: %v", err)), nil
		}
		result["cached_sources"] = len(ids)
	}
	if s.ingestor != nil {
		result["progress"] = s.ingestor.Progress()
	}

	return jsonResult(result)
}

func (s *Server) handleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slog.Info("ingestion requested over mcp")

	report, err := s.ingestor.Ingest(ctx, s.source)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingestion failed: %v", err)), nil
	}

	failures := make(map[string]string, len(report.Errors))
	for id, e := range report.Errors {
		failures[id] = e.Error()
	}

	return jsonResult(map[string]any{
		"run_id":         report.RunID,
		"discovered":     report.Discovered,
		"unchanged":      report.Unchanged,
		"updated":        report.Updated,
		"removed":        report.Removed,
		"failed":         report.Failed,
		"chunks_added":   report.ChunksAdded,
		"chunks_removed": report.ChunksRemoved,
		"errors":         failures,
		"duration":       report.Duration.String(),
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// FormatBytes formats bytes to human readable string.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
