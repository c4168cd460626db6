// Package types defines core data types used throughout localchat.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// ChunkRecord is one unit of ingested, embeddable text.
type ChunkRecord struct {
	Key        string    `json:"key"`
	SourceName string    `json:"source_name"` // file name of the origin document
	Position   int       `json:"position"`    // page number within the source
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector,omitempty"`
}

// ChunkKey derives the record key for a chunk of text.
// The key is stable for unchanged content and changes when the text at a position changes.
// It is built from the source id, so documents sharing a file name never share keys.
func ChunkKey(sourceID string, position int, text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%d:%s", sourceID, position, hex.EncodeToString(h[:8]))
}

// KeySourceID returns the source id part of a key built by ChunkKey.
func KeySourceID(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key
	}
	j := strings.LastIndexByte(key[:i], ':')
	if j < 0 {
		return key[:i]
	}
	return key[:j]
}

// KeySourceName returns the file name of the source a key belongs to.
func KeySourceName(key string) string {
	return path.Base(KeySourceID(key))
}

// NewChunkRecord creates a record without a vector and fills in its key.
// The source name is the last element of the slash separated source id.
func NewChunkRecord(sourceID string, position int, text string) *ChunkRecord {
	return &ChunkRecord{
		Key:        ChunkKey(sourceID, position, text),
		SourceName: path.Base(sourceID),
		Position:   position,
		Text:       text,
	}
}

// Passage is a (position, text) pair extracted from a source document.
type Passage struct {
	Position int
	Text     string
}

// SourceDocument identifies a discoverable document.
type SourceDocument struct {
	ID      string // stable source id, e.g. path relative to the source root
	Name    string // display name stored on every chunk record
	Path    string // absolute location, if the source is file backed
	Version string // modification signature; empty disables the unchanged fast path
}

// NewChunk creates a record of doc. The key comes from the document id and
// the record carries the display name.
func (d SourceDocument) NewChunk(position int, text string) *ChunkRecord {
	return &ChunkRecord{
		Key:        ChunkKey(d.ID, position, text),
		SourceName: d.Name,
		Position:   position,
		Text:       text,
	}
}

// CacheEntry is the per-source ingestion bookkeeping.
type CacheEntry struct {
	SourceID  string    `json:"source_id"`
	Version   string    `json:"version"`
	Keys      KeySet    `json:"keys"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeySet is a set of chunk keys.
type KeySet map[string]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts a key.
func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Diff returns the keys in s that are not in other, sorted.
func (s KeySet) Diff(other KeySet) []string {
	var out []string
	for k := range s {
		if !other.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same keys.
func (s KeySet) Equal(other KeySet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in ascending order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SearchFilter restricts search results by metadata equality.
type SearchFilter struct {
	SourceName string // empty means no filter
}

// SearchRequest is a nearest-neighbor query against a vector store.
type SearchRequest struct {
	QueryVec []float32
	Limit    int
	Filter   SearchFilter
}

// SearchResult is a matched record with its cosine similarity.
type SearchResult struct {
	Record *ChunkRecord `json:"record"`
	Score  float32      `json:"score"`
}

// StoreStats contains vector store statistics.
type StoreStats struct {
	Collection  string `json:"collection"`
	Dimensions  int    `json:"dimensions"`
	TotalChunks int    `json:"total_chunks"`
	Sources     int    `json:"sources"`
	SizeBytes   int64  `json:"size_bytes"`
}

// IngestReport summarises one ingestion pass.
type IngestReport struct {
	RunID         string           `json:"run_id"`
	Discovered    int              `json:"discovered"`
	Unchanged     int              `json:"unchanged"`
	Updated       int              `json:"updated"`
	Failed        int              `json:"failed"`
	Removed       int              `json:"removed"`
	ChunksAdded   int              `json:"chunks_added"`
	ChunksRemoved int              `json:"chunks_removed"`
	Errors        map[string]error `json:"-"`
	Duration      time.Duration    `json:"duration"`
}

// Err joins the per-source errors in source id order, or returns nil.
func (r *IngestReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Errors[id]))
	}
	return errors.Join(errs...)
}

// IngestProgress reports progress during ingestion.
type IngestProgress struct {
	Phase       string `json:"phase"` // "scanning", "ingesting", "pruning"
	Processed   int    `json:"processed"`
	Discovered  int    `json:"discovered"`
	CurrentFile string `json:"current_file,omitempty"`
}
