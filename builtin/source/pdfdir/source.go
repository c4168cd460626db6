// Package pdfdir implements a Source over a directory tree of PDF files.
package pdfdir

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Default values
var DefaultInclude = []string{"*.pdf"}

// Config contains PDF directory source configuration.
type Config struct {
	Dir         string
	Include     []string // glob patterns, matched against the relative path and the file name
	MaxFileSize int64    // bytes, 0 = unlimited
}

// PageReader returns the plain text of every page of a document, one entry
// per page. Pages without content are returned as empty strings.
type PageReader func(ctx context.Context, path string) ([]string, error)

// Source enumerates PDF documents under a directory.
type Source struct {
	config Config
	read   PageReader
}

// New creates a PDF directory source.
func New(cfg Config) *Source {
	return NewWithReader(cfg, ReadPages)
}

// NewWithReader creates a source with a custom page reader.
func NewWithReader(cfg Config, read PageReader) *Source {
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultInclude
	}
	return &Source{config: cfg, read: read}
}

// Name returns the source name.
func (s *Source) Name() string {
	return "pdfdir"
}

// Dir returns the root directory.
func (s *Source) Dir() string {
	return s.config.Dir
}

// Documents enumerates matching files in lexical order of their relative path.
func (s *Source) Documents(ctx context.Context) iter.Seq2[types.SourceDocument, error] {
	return func(yield func(types.SourceDocument, error) bool) {
		docs, err := s.scan(ctx)
		if err != nil {
			yield(types.SourceDocument{}, err)
			return
		}
		for _, doc := range docs {
			if ctx.Err() != nil {
				yield(types.SourceDocument{}, ctx.Err())
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// scan walks the directory and returns the matching documents, sorted by ID.
func (s *Source) scan(ctx context.Context) ([]types.SourceDocument, error) {
	root := s.config.Dir
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrSourceUnavailable, root)
	}

	var docs []types.SourceDocument
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if !s.Includes(relPath) {
			slog.Debug("file not included", "path", relPath)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat file", "path", relPath, "error", err)
			return nil
		}
		if s.config.MaxFileSize > 0 && fi.Size() > s.config.MaxFileSize {
			slog.Warn("skipping large file", "path", relPath, "size", fi.Size(), "max", s.config.MaxFileSize)
			return nil
		}

		docs = append(docs, types.SourceDocument{
			ID:      relPath,
			Name:    d.Name(),
			Path:    path,
			Version: fmt.Sprintf("%d-%d", fi.Size(), fi.ModTime().UnixNano()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Includes reports whether a slash-separated path relative to Dir matches an include pattern.
func (s *Source) Includes(relPath string) bool {
	for _, pattern := range s.config.Include {
		if matchGlob(pattern, relPath) {
			return true
		}
	}
	return false
}

// Extract returns one passage per page with content, numbered from 1.
func (s *Source) Extract(ctx context.Context, doc types.SourceDocument) ([]types.Passage, error) {
	path := doc.Path
	if path == "" {
		path = filepath.Join(s.config.Dir, filepath.FromSlash(doc.ID))
	}

	pages, err := s.read(ctx, path)
	if err != nil {
		return nil, err
	}

	passages := make([]types.Passage, 0, len(pages))
	for i, text := range pages {
		text = NormalizeText(text)
		if text == "" {
			continue
		}
		passages = append(passages, types.Passage{Position: i + 1, Text: text})
	}
	return passages, nil
}

// ReadPages extracts page text with ledongthuc/pdf. Parser panics on
// malformed input are reported as ErrSourceUnavailable.
func ReadPages(ctx context.Context, path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %s: corrupt pdf: %v", types.ErrSourceUnavailable, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", types.ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			slog.Warn("failed to extract page text", "path", path, "page", i, "error", err)
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// NormalizeText collapses runs of spaces inside lines and runs of blank lines,
// and trims the result. Single blank lines are kept as paragraph breaks.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}

// matchGlob matches a slash-separated relative path against a glob pattern.
// A "**/" prefix matches any directory depth.
func matchGlob(pattern, path string) bool {
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		pattern = rest
	}

	// Standard glob match
	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}

	// Try matching against basename, ignoring case ("Report.PDF")
	matched, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(filepath.Base(path)))
	return matched
}

var _ provider.Source = (*Source)(nil)
