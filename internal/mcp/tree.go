package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// TreeNode is a directory or document in the documents tree.
type TreeNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"` // "file" or "directory"
	Path     string      `json:"path"` // relative to the documents dir, slash separated
	Size     int64       `json:"size,omitempty"`
	Ingested bool        `json:"ingested,omitempty"`
	Chunks   int         `json:"chunks,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`

	// Aggregated for directories
	FileCount     int `json:"file_count,omitempty"`
	IngestedCount int `json:"ingested_count,omitempty"`
}

// TreeResult is the result of document_tree.
type TreeResult struct {
	Root       *TreeNode `json:"root"`
	TotalFiles int       `json:"total_files"`
	TotalDirs  int       `json:"total_dirs"`
	Ingested   int       `json:"ingested_files"`
	Truncated  bool      `json:"truncated,omitempty"`
}

type treeStats struct {
	files     int
	dirs      int
	ingested  int
	truncated bool
}

func (s *Server) handleDocumentTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sub := req.GetString("path", "")
	maxDepth := req.GetInt("depth", 5)
	format := req.GetString("format", "json")

	rootPath := s.docsDir
	relRoot := ""
	if sub != "" {
		clean := filepath.Clean(filepath.FromSlash(sub))
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return mcp.NewToolResultError(fmt.Sprintf("path outside documents dir: %s", sub)), nil
		}
		rootPath = filepath.Join(s.docsDir, clean)
		relRoot = filepath.ToSlash(clean)
		if _, err := os.Stat(rootPath); os.IsNotExist(err) {
			return mcp.NewToolResultError(fmt.Sprintf("path not found: %s", sub)), nil
		}
	}

	chunks, err := s.ingestedChunks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read ingestion cache: %v", err)), nil
	}

	root, stats, err := s.buildTree(ctx, rootPath, relRoot, maxDepth, 0, chunks)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build tree: %v", err)), nil
	}

	switch format {
	case "text":
		return mcp.NewToolResultText(formatTreeAsText(root)), nil
	default:
		data, _ := json.MarshalIndent(&TreeResult{
			Root:       root,
			TotalFiles: stats.files,
			TotalDirs:  stats.dirs,
			Ingested:   stats.ingested,
			Truncated:  stats.truncated,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}

// ingestedChunks maps cached source ids to their chunk counts.
func (s *Server) ingestedChunks(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	if s.cache == nil {
		return out, nil
	}
	ids, err := s.cache.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		keys, err := s.cache.GetKeys(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = len(keys)
	}
	return out, nil
}

func (s *Server) buildTree(ctx context.Context, absPath, relPath string, maxDepth, depth int, chunks map[string]int) (*TreeNode, treeStats, error) {
	if ctx.Err() != nil {
		return nil, treeStats{}, ctx.Err()
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, treeStats{}, err
	}

	node := &TreeNode{Name: path.Base(relPath), Path: relPath}
	if relPath == "" {
		node.Name = filepath.Base(s.docsDir)
		node.Path = "."
	}

	var stats treeStats
	if !info.IsDir() {
		node.Type = "file"
		node.Size = info.Size()
		stats.files++
		if n, ok := chunks[relPath]; ok {
			node.Ingested = true
			node.Chunks = n
			stats.ingested++
		}
		return node, stats, nil
	}

	node.Type = "directory"
	stats.dirs++
	if depth >= maxDepth {
		stats.truncated = true
		return node, stats, nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return node, stats, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childRel := entry.Name()
		if relPath != "" {
			childRel = relPath + "/" + entry.Name()
		}
		if !entry.IsDir() && s.include != nil && !s.include(childRel) {
			continue
		}

		child, childStats, err := s.buildTree(ctx, filepath.Join(absPath, entry.Name()), childRel, maxDepth, depth+1, chunks)
		if err != nil {
			if ctx.Err() != nil {
				return nil, treeStats{}, err
			}
			continue
		}
		if child.Type == "directory" && childStats.files == 0 && !childStats.truncated {
			continue
		}

		node.Children = append(node.Children, child)
		stats.files += childStats.files
		stats.dirs += childStats.dirs
		stats.ingested += childStats.ingested
		stats.truncated = stats.truncated || childStats.truncated
	}

	node.FileCount = stats.files
	node.IngestedCount = stats.ingested
	return node, stats, nil
}

// formatTreeAsText renders the tree with box-drawing connectors.
func formatTreeAsText(root *TreeNode) string {
	var sb strings.Builder
	sb.WriteString(nodeLabel(root) + "\n")
	writeChildren(&sb, root, "")
	return sb.String()
}

func writeChildren(sb *strings.Builder, node *TreeNode, prefix string) {
	for i, child := range node.Children {
		last := i == len(node.Children)-1
		connector, next := "├── ", "│   "
		if last {
			connector, next = "└── ", "    "
		}
		sb.WriteString(prefix + connector + nodeLabel(child) + "\n")
		writeChildren(sb, child, prefix+next)
	}
}

func nodeLabel(node *TreeNode) string {
	if node.Type == "directory" {
		label := node.Name + "/"
		if node.FileCount > 0 {
			label += fmt.Sprintf(" (%d files, %d ingested)", node.FileCount, node.IngestedCount)
		}
		return label
	}
	if node.Ingested {
		return fmt.Sprintf("%s [%d chunks]", node.Name, node.Chunks)
	}
	return node.Name
}
