// Package ingest implements incremental ingestion of source documents into a
// vector store, with per-source bookkeeping in an ingestion cache.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Default values
const (
	DefaultSourceTimeout = 10 * time.Minute
	rollbackTimeout      = 30 * time.Second
)

// Config contains ingestor configuration.
type Config struct {
	Store      provider.VectorStore
	Cache      provider.IngestionCache
	Embedding  provider.EmbeddingProvider
	Chunker    provider.ChunkingStrategy
	OnProgress func(types.IngestProgress)

	Workers       int           // sources processed in parallel, default 1
	SourceTimeout time.Duration // per attempt at one source
	Retries       int           // extra attempts after a deadline expiry
}

// Ingestor keeps a vector store in sync with a Source.
type Ingestor struct {
	store     provider.VectorStore
	cache     provider.IngestionCache
	embedding provider.EmbeddingProvider
	chunker   provider.ChunkingStrategy

	workers       int
	sourceTimeout time.Duration
	retries       int

	// one pass at a time
	runMu sync.Mutex

	// Progress tracking
	progressMu sync.Mutex
	progress   types.IngestProgress
	onProgress func(types.IngestProgress)
}

// New creates a new ingestor.
func New(cfg Config) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Ingestor{
		store:         cfg.Store,
		cache:         cfg.Cache,
		embedding:     cfg.Embedding,
		chunker:       cfg.Chunker,
		workers:       cfg.Workers,
		sourceTimeout: cfg.SourceTimeout,
		retries:       cfg.Retries,
		onProgress:    cfg.OnProgress,
	}
}

// outcome is the result of ingesting one source document.
type outcome struct {
	unchanged bool
	added     int
	removed   int
}

// Ingest brings the store in line with the current documents of src.
//
// Each discovered document is diffed against its cached chunk keys; only added
// chunks are embedded and upserted, and only removed chunks are deleted. The
// cache entry is rewritten after all store writes for that document succeed.
// Documents that were cached but are no longer discovered are removed, unless
// enumeration stopped early.
//
// Failures of individual documents are recorded in the report and do not stop
// the pass. The returned error is reserved for pass-level failures.
func (in *Ingestor) Ingest(ctx context.Context, src provider.Source) (*types.IngestReport, error) {
	in.runMu.Lock()
	defer in.runMu.Unlock()

	start := time.Now()
	report := &types.IngestReport{
		RunID:  uuid.NewString(),
		Errors: make(map[string]error),
	}
	log := slog.With("run_id", report.RunID, "source", src.Name())

	known, err := in.cache.ListSources(ctx)
	if err != nil {
		return report, fmt.Errorf("list cached sources: %w", err)
	}

	in.resetProgress()
	in.updateProgress("scanning", 0, 0, "")
	log.Info("ingestion started", "cached_sources", len(known))

	// Enumerate lazily and hand documents to the workers
	docs := make(chan types.SourceDocument)
	discovered := make(map[string]struct{})
	var enumErr error

	go func() {
		defer close(docs)
		for doc, err := range src.Documents(ctx) {
			if err != nil {
				enumErr = err
				return
			}
			if _, dup := discovered[doc.ID]; dup {
				log.Warn("duplicate source id, skipping", "id", doc.ID)
				continue
			}
			discovered[doc.ID] = struct{}{}
			in.updateProgress("ingesting", 0, len(discovered), "")

			select {
			case docs <- doc:
			case <-ctx.Done():
				enumErr = ctx.Err()
				return
			}
		}
	}()

	var (
		reportMu sync.Mutex
		wg       sync.WaitGroup
	)
	for i := 0; i < in.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range docs {
				in.updateProgress("ingesting", 0, 0, doc.ID)
				out, err := in.ingestWithRetry(ctx, src, doc, log)

				reportMu.Lock()
				report.Discovered++
				switch {
				case err != nil:
					report.Failed++
					report.Errors[doc.ID] = err
					log.Warn("source ingestion failed", "id", doc.ID, "error", err)
				case out.unchanged:
					report.Unchanged++
				default:
					report.Updated++
					report.ChunksAdded += out.added
					report.ChunksRemoved += out.removed
				}
				processed := report.Discovered
				reportMu.Unlock()

				in.updateProgress("ingesting", processed, 0, "")
			}
		}()
	}
	wg.Wait()

	// docs is closed, so the enumerator has finished writing enumErr and discovered
	if enumErr == nil {
		enumErr = ctx.Err()
	}
	if enumErr != nil {
		report.Duration = time.Since(start)
		log.Warn("enumeration incomplete, keeping vanished sources", "error", enumErr)
		return report, fmt.Errorf("enumerate documents: %w", enumErr)
	}

	// Remove sources that are no longer discoverable
	in.updateProgress("pruning", 0, 0, "")
	for _, id := range known {
		if _, ok := discovered[id]; ok {
			continue
		}
		removed, err := in.removeSource(ctx, id)
		if err != nil {
			report.Failed++
			report.Errors[id] = err
			log.Warn("failed to remove vanished source", "id", id, "error", err)
			continue
		}
		report.Removed++
		report.ChunksRemoved += removed
		log.Info("removed vanished source", "id", id, "chunks", removed)
	}

	report.Duration = time.Since(start)
	log.Info("ingestion complete",
		"discovered", report.Discovered,
		"unchanged", report.Unchanged,
		"updated", report.Updated,
		"removed", report.Removed,
		"failed", report.Failed,
		"chunks_added", report.ChunksAdded,
		"chunks_removed", report.ChunksRemoved,
		"duration", report.Duration.Round(time.Millisecond),
	)

	return report, nil
}

// ingestWithRetry runs ingestSource under the per-source timeout, retrying on deadline expiry.
func (in *Ingestor) ingestWithRetry(ctx context.Context, src provider.Source, doc types.SourceDocument, log *slog.Logger) (outcome, error) {
	var (
		out outcome
		err error
	)
	for attempt := 0; attempt <= in.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, in.sourceTimeout)
		out, err = in.ingestSource(attemptCtx, src, doc)
		cancel()

		if err == nil || !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return out, err
		}
		if attempt < in.retries {
			log.Warn("source timed out, retrying", "id", doc.ID, "attempt", attempt+1, "timeout", in.sourceTimeout)
		}
	}
	return out, err
}

// ingestSource diffs one document against the cache and applies the difference.
func (in *Ingestor) ingestSource(ctx context.Context, src provider.Source, doc types.SourceDocument) (outcome, error) {
	entry, err := in.cache.GetEntry(ctx, doc.ID)
	if err != nil {
		return outcome{}, err
	}

	// Unchanged modification signature: no need to extract
	if entry != nil && doc.Version != "" && entry.Version == doc.Version {
		return outcome{unchanged: true}, nil
	}

	passages, err := src.Extract(ctx, doc)
	if err != nil {
		if errors.Is(err, types.ErrSourceUnavailable) || ctx.Err() != nil {
			return outcome{}, err
		}
		return outcome{}, fmt.Errorf("%w: %w", types.ErrSourceUnavailable, err)
	}

	records := in.chunker.Chunk(doc, passages)
	newKeys := types.NewKeySet()
	byKey := make(map[string]*types.ChunkRecord, len(records))
	for _, r := range records {
		newKeys.Add(r.Key)
		byKey[r.Key] = r
	}

	oldKeys := types.NewKeySet()
	if entry != nil {
		oldKeys = entry.Keys
	}

	added := newKeys.Diff(oldKeys)
	removed := oldKeys.Diff(newKeys)

	if len(added) == 0 && len(removed) == 0 {
		// Same content under a new signature, or a first sighting of an empty document
		if entry == nil || entry.Version != doc.Version {
			if err := in.cache.RecordKeys(ctx, doc.ID, doc.Version, newKeys); err != nil {
				return outcome{}, err
			}
		}
		return outcome{unchanged: true}, nil
	}

	upserted, err := in.embedAndUpsert(ctx, added, byKey)
	if err != nil {
		in.rollback(ctx, doc.ID, upserted)
		return outcome{}, err
	}

	if err := in.store.Delete(ctx, removed); err != nil {
		in.rollback(ctx, doc.ID, upserted)
		return outcome{}, fmt.Errorf("delete stale chunks: %w", err)
	}

	// A failure here leaves the store ahead of the cache; the next pass
	// re-upserts the same keys and deletes nothing twice.
	if err := in.cache.RecordKeys(ctx, doc.ID, doc.Version, newKeys); err != nil {
		return outcome{}, err
	}

	slog.Debug("source ingested", "id", doc.ID, "chunks", len(newKeys), "added", len(added), "removed", len(removed))
	return outcome{added: len(added), removed: len(removed)}, nil
}

// embedAndUpsert embeds the added chunks batch by batch and upserts each batch.
// It returns the keys written so far, also on error.
func (in *Ingestor) embedAndUpsert(ctx context.Context, keys []string, byKey map[string]*types.ChunkRecord) ([]string, error) {
	batchSize := in.embedding.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 1
	}
	dims := in.store.Dimensions()

	var upserted []string
	for i := 0; i < len(keys); i += batchSize {
		if err := ctx.Err(); err != nil {
			return upserted, err
		}

		end := min(i+batchSize, len(keys))
		batch := keys[i:end]

		texts := make([]string, len(batch))
		for j, key := range batch {
			texts[j] = byKey[key].Text
		}

		vectors, err := in.embedding.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, types.ErrEmbeddingFailed) {
				return upserted, err
			}
			return upserted, fmt.Errorf("%w: %w", types.ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(batch) {
			return upserted, fmt.Errorf("%w: got %d embeddings for %d chunks", types.ErrEmbeddingFailed, len(vectors), len(batch))
		}

		records := make([]*types.ChunkRecord, len(batch))
		for j, key := range batch {
			if len(vectors[j]) != dims {
				return upserted, fmt.Errorf("%w: embedding has %d dimensions, store has %d",
					types.ErrDimensionMismatch, len(vectors[j]), dims)
			}
			rec := *byKey[key]
			rec.Vector = vectors[j]
			records[j] = &rec
		}

		if err := in.store.Upsert(ctx, records); err != nil {
			return upserted, fmt.Errorf("upsert chunks: %w", err)
		}
		upserted = append(upserted, batch...)
	}
	return upserted, nil
}

// rollback removes chunks written during a failed attempt. They were not in the
// cached key set, so leaving them would orphan them in the store.
func (in *Ingestor) rollback(ctx context.Context, sourceID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := in.store.Delete(ctx, keys); err != nil {
		slog.Warn("rollback failed, chunks may be orphaned", "id", sourceID, "chunks", len(keys), "error", err)
	}
}

// removeSource deletes every cached chunk of a vanished source, then its cache entry.
func (in *Ingestor) removeSource(ctx context.Context, sourceID string) (int, error) {
	keys, err := in.cache.GetKeys(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if err := in.store.Delete(ctx, keys.Sorted()); err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	if err := in.cache.DeleteSource(ctx, sourceID); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Progress returns the current progress snapshot.
func (in *Ingestor) Progress() types.IngestProgress {
	in.progressMu.Lock()
	defer in.progressMu.Unlock()
	return in.progress
}

func (in *Ingestor) resetProgress() {
	in.progressMu.Lock()
	in.progress = types.IngestProgress{}
	in.progressMu.Unlock()
}

// updateProgress updates the progress state. Zero values leave fields unchanged.
func (in *Ingestor) updateProgress(phase string, processed, discovered int, currentFile string) {
	in.progressMu.Lock()
	defer in.progressMu.Unlock()

	if phase != "" {
		in.progress.Phase = phase
	}
	if processed > in.progress.Processed {
		in.progress.Processed = processed
	}
	if discovered > 0 {
		in.progress.Discovered = discovered
	}
	if currentFile != "" {
		in.progress.CurrentFile = currentFile
	}

	if in.onProgress != nil {
		in.onProgress(in.progress)
	}
}
