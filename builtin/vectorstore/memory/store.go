// Package memory implements VectorStore with brute-force cosine search over
// an in-process map. With a Path the collection is persisted as a JSON file
// after every mutation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "data-localchatbot-ingested"

// Config contains memory store configuration.
type Config struct {
	Path       string // JSON file; empty = no persistence
	Collection string
}

// Store is an in-memory vector store.
type Store struct {
	config Config

	mu         sync.RWMutex
	dimensions int
	records    map[string]*types.ChunkRecord
}

// fileFormat is the on-disk representation.
type fileFormat struct {
	Collection string               `json:"collection"`
	Dimensions int                  `json:"dimensions"`
	Records    []*types.ChunkRecord `json:"records"`
}

// New creates a new memory store.
func New(cfg Config) *Store {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	return &Store{
		config:  cfg,
		records: make(map[string]*types.ChunkRecord),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "memory"
}

// Init loads the persisted collection, if any, and fixes the dimension.
func (s *Store) Init(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", types.ErrInvalidConfig, dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Path != "" {
		if err := s.load(); err != nil {
			return err
		}
	}

	if s.dimensions != 0 && s.dimensions != dimensions {
		return fmt.Errorf("%w: collection %s has %d dimensions, embedding provider produces %d",
			types.ErrDimensionMismatch, s.config.Collection, s.dimensions, dimensions)
	}
	s.dimensions = dimensions
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", types.ErrStoreFailed, s.config.Path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: decode %s: %w", types.ErrStoreFailed, s.config.Path, err)
	}
	if f.Collection != "" && f.Collection != s.config.Collection {
		return fmt.Errorf("%w: %s holds collection %q, not %q",
			types.ErrInvalidConfig, s.config.Path, f.Collection, s.config.Collection)
	}

	s.dimensions = f.Dimensions
	s.records = make(map[string]*types.ChunkRecord, len(f.Records))
	for _, r := range f.Records {
		s.records[r.Key] = r
	}
	return nil
}

// persist writes the collection atomically. Caller holds the write lock.
func (s *Store) persist() error {
	if s.config.Path == "" {
		return nil
	}

	f := fileFormat{
		Collection: s.config.Collection,
		Dimensions: s.dimensions,
		Records:    make([]*types.ChunkRecord, 0, len(s.records)),
	}
	for _, r := range s.records {
		f.Records = append(f.Records, r)
	}
	sort.Slice(f.Records, func(i, j int) bool { return f.Records[i].Key < f.Records[j].Key })

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vectors-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.config.Path)
}

// Dimensions returns the collection dimension.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Upsert inserts or replaces records. The batch is validated before any record is applied.
func (s *Store) Upsert(ctx context.Context, records []*types.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r.Key == "" {
			return fmt.Errorf("%w: record without key", types.ErrStoreFailed)
		}
		if len(r.Vector) != s.dimensions {
			return fmt.Errorf("%w: record %s has %d dimensions, collection has %d",
				types.ErrDimensionMismatch, r.Key, len(r.Vector), s.dimensions)
		}
	}

	previous := make(map[string]*types.ChunkRecord, len(records))
	for _, r := range records {
		previous[r.Key] = s.records[r.Key]
		rec := *r
		rec.Vector = append([]float32(nil), r.Vector...)
		s.records[r.Key] = &rec
	}

	if err := s.persist(); err != nil {
		// roll back so memory matches disk
		for key, old := range previous {
			if old == nil {
				delete(s.records, key)
			} else {
				s.records[key] = old
			}
		}
		return fmt.Errorf("%w: persist: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Delete removes records by key.
func (s *Store) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]*types.ChunkRecord)
	for _, key := range keys {
		if r, ok := s.records[key]; ok {
			removed[key] = r
			delete(s.records, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	if err := s.persist(); err != nil {
		for key, r := range removed {
			s.records[key] = r
		}
		return fmt.Errorf("%w: persist: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Search ranks records by cosine similarity to the query vector.
func (s *Store) Search(ctx context.Context, req *types.SearchRequest) ([]*types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", types.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(req.QueryVec) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			types.ErrDimensionMismatch, len(req.QueryVec), s.dimensions)
	}

	results := make([]*types.SearchResult, 0, len(s.records))
	for _, r := range s.records {
		if req.Filter.SourceName != "" && r.SourceName != req.Filter.SourceName {
			continue
		}
		rec := *r
		results = append(results, &types.SearchResult{
			Record: &rec,
			Score:  CosineSimilarity(req.QueryVec, r.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Key < results[j].Record.Key
	})

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Keys returns record keys for a source name, sorted.
func (s *Store) Keys(ctx context.Context, sourceName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, r := range s.records {
		if sourceName == "" || r.SourceName == sourceName {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*types.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make(map[string]struct{})
	for _, r := range s.records {
		sources[r.SourceName] = struct{}{}
	}

	stats := &types.StoreStats{
		Collection:  s.config.Collection,
		Dimensions:  s.dimensions,
		TotalChunks: len(s.records),
		Sources:     len(sources),
	}
	if s.config.Path != "" {
		if info, err := os.Stat(s.config.Path); err == nil {
			stats.SizeBytes = info.Size()
		}
	}
	return stats, nil
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.records
	s.records = make(map[string]*types.ChunkRecord)
	if err := s.persist(); err != nil {
		s.records = old
		return fmt.Errorf("%w: persist: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 if either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ provider.VectorStore = (*Store)(nil)
