// Package page implements the one-chunk-per-page strategy.
package page

import (
	"strings"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Chunker emits one record per non-empty passage.
type Chunker struct{}

// New creates a page chunker.
func New() *Chunker {
	return &Chunker{}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "page"
}

// Chunk builds one record per page. Blank pages are skipped and repeated
// (position, text) pairs collapse into one record.
func (c *Chunker) Chunk(doc types.SourceDocument, passages []types.Passage) []*types.ChunkRecord {
	seen := make(map[string]struct{}, len(passages))
	records := make([]*types.ChunkRecord, 0, len(passages))

	for _, p := range passages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		r := doc.NewChunk(p.Position, text)
		if _, dup := seen[r.Key]; dup {
			continue
		}
		seen[r.Key] = struct{}{}
		records = append(records, r)
	}
	return records
}

var _ provider.ChunkingStrategy = (*Chunker)(nil)
