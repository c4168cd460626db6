// Package paragraph implements a chunking strategy that splits each page on
// blank lines and packs paragraphs into chunks of bounded size.
package paragraph

import (
	"strings"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 1500 // chars
	DefaultMinChunkSize = 40   // chars; smaller paragraphs are merged forward
)

// Config contains configuration for paragraph chunking.
type Config struct {
	MaxChunkSize int // Maximum chunk size in chars
	MinChunkSize int // Minimum chunk size in chars
}

// Chunker implements paragraph-based chunking.
type Chunker struct {
	config Config
}

// New creates a new paragraph chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.MinChunkSize > cfg.MaxChunkSize {
		cfg.MinChunkSize = cfg.MaxChunkSize
	}
	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "paragraph"
}

// Chunk splits every passage into paragraph chunks. All chunks of a page keep
// the page number as position; their keys differ by content hash.
func (c *Chunker) Chunk(doc types.SourceDocument, passages []types.Passage) []*types.ChunkRecord {
	seen := make(map[string]struct{})
	var records []*types.ChunkRecord

	for _, p := range passages {
		for _, text := range c.split(p.Text) {
			r := doc.NewChunk(p.Position, text)
			if _, dup := seen[r.Key]; dup {
				continue
			}
			seen[r.Key] = struct{}{}
			records = append(records, r)
		}
	}
	return records
}

// split packs the paragraphs of text into chunks of at most MaxChunkSize chars.
func (c *Chunker) split(text string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphs(text) {
		// Split if chunk is getting too large
		if current.Len() > 0 && current.Len()+len(para)+2 > c.config.MaxChunkSize {
			flush()
		}

		if len(para) > c.config.MaxChunkSize {
			chunks = append(chunks, splitLong(para, c.config.MaxChunkSize)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)

		// Split on paragraph boundary once the chunk is big enough
		if current.Len() >= c.config.MinChunkSize && current.Len() >= c.config.MaxChunkSize/2 {
			flush()
		}
	}
	flush()

	return chunks
}

// paragraphs returns the trimmed, non-empty blocks of text separated by blank lines.
func paragraphs(text string) []string {
	var out []string
	var lines []string

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
				lines = nil
			}
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
	}
	return out
}

// splitLong breaks an oversized paragraph at whitespace, hard-cutting words longer than max.
func splitLong(para string, max int) []string {
	var out []string
	var current strings.Builder

	for _, word := range strings.Fields(para) {
		for r := []rune(word); len(r) > max; r = []rune(word) {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, string(r[:max]))
			word = string(r[max:])
		}
		if current.Len() > 0 && current.Len()+1+len(word) > max {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

var _ provider.ChunkingStrategy = (*Chunker)(nil)
