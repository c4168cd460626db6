package ingest

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/spetr/localchat/builtin/cache/memory"
	"github.com/spetr/localchat/builtin/chunking/page"
	"github.com/spetr/localchat/builtin/embedding/hash"
	"github.com/spetr/localchat/builtin/vectorstore/memory"
	"github.com/spetr/localchat/pkg/types"
)

const testDims = 16

// fakeSource serves documents from memory.
type fakeSource struct {
	mu         sync.Mutex
	docs       map[string]fakeDoc
	extractErr map[string]error
	enumErr    error
	extracts   int
}

type fakeDoc struct {
	version  string
	passages []types.Passage
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: make(map[string]fakeDoc), extractErr: make(map[string]error)}
}

func (s *fakeSource) put(id, version string, passages ...types.Passage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = fakeDoc{version: version, passages: passages}
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Documents(ctx context.Context) iter.Seq2[types.SourceDocument, error] {
	s.mu.Lock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	versions := make(map[string]string, len(s.docs))
	for id, d := range s.docs {
		versions[id] = d.version
	}
	enumErr := s.enumErr
	s.mu.Unlock()
	sort.Strings(ids)

	return func(yield func(types.SourceDocument, error) bool) {
		for _, id := range ids {
			doc := types.SourceDocument{ID: id, Name: baseName(id), Path: "/docs/" + id, Version: versions[id]}
			if !yield(doc, nil) {
				return
			}
		}
		if enumErr != nil {
			yield(types.SourceDocument{}, enumErr)
		}
	}
}

func (s *fakeSource) Extract(ctx context.Context, doc types.SourceDocument) ([]types.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extracts++
	if err := s.extractErr[doc.ID]; err != nil {
		return nil, err
	}
	return s.docs[doc.ID].passages, nil
}

func baseName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// countingEmbedder wraps the hash provider and counts calls.
type countingEmbedder struct {
	*hash.Provider

	mu     sync.Mutex
	calls  int
	texts  []string
	failOn string
	dims   int // overrides output length when > 0
	block  bool
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Provider: hash.New(hash.Config{Dimensions: testDims, BatchSize: 2})}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	block := e.block
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, t := range texts {
		if e.failOn != "" && strings.Contains(t, e.failOn) {
			return nil, errors.New("connection refused")
		}
	}
	if e.dims > 0 {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = hash.Vector(t, e.dims)
		}
		return out, nil
	}
	return e.Provider.Embed(ctx, texts)
}

func (e *countingEmbedder) reset() {
	e.mu.Lock()
	e.calls = 0
	e.texts = nil
	e.mu.Unlock()
}

// recordingStore wraps the memory store and records writes.
type recordingStore struct {
	*memory.Store

	mu         sync.Mutex
	upserted   []string
	deleted    []string
	writes     int
	failUpsert int    // fail the n-th upsert call (1-based), 0 = never
	failDelete string // fail deletes that include this key
	upsertN    int
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	s := memory.New(memory.Config{})
	require.NoError(t, s.Init(context.Background(), testDims))
	return &recordingStore{Store: s}
}

func (s *recordingStore) Upsert(ctx context.Context, records []*types.ChunkRecord) error {
	s.mu.Lock()
	s.upsertN++
	fail := s.failUpsert != 0 && s.upsertN == s.failUpsert
	s.mu.Unlock()
	if fail {
		return errors.Join(types.ErrStoreFailed, errors.New("disk full"))
	}

	if err := s.Store.Upsert(ctx, records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, r := range records {
		s.upserted = append(s.upserted, r.Key)
	}
	return nil
}

func (s *recordingStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	fail := s.failDelete != "" && slices.Contains(keys, s.failDelete)
	s.mu.Unlock()
	if fail {
		return errors.Join(types.ErrStoreFailed, errors.New("locked"))
	}

	if err := s.Store.Delete(ctx, keys); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *recordingStore) reset() {
	s.mu.Lock()
	s.upserted = nil
	s.deleted = nil
	s.writes = 0
	s.mu.Unlock()
}

type fixture struct {
	source   *fakeSource
	embedder *countingEmbedder
	store    *recordingStore
	cache    *memcache.Cache
	ingestor *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:   newFakeSource(),
		embedder: newCountingEmbedder(),
		store:    newRecordingStore(t),
		cache:    memcache.New(),
	}
	f.ingestor = New(Config{
		Store:     f.store,
		Cache:     f.cache,
		Embedding: f.embedder,
		Chunker:   page.New(),
	})
	return f
}

func (f *fixture) ingest(t *testing.T) *types.IngestReport {
	t.Helper()
	report, err := f.ingestor.Ingest(context.Background(), f.source)
	require.NoError(t, err)
	return report
}

func (f *fixture) reset() {
	f.embedder.reset()
	f.store.reset()
}

func p(pos int, text string) types.Passage {
	return types.Passage{Position: pos, Text: text}
}

func key(id string, pos int, text string) string {
	return types.ChunkKey(id, pos, text)
}

func TestIngestIdempotent(t *testing.T) {
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"), p(2, "dogs"))
	f.source.put("sub/b.pdf", "v1", p(1, "fish"))

	report := f.ingest(t)
	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 3, report.ChunksAdded)
	assert.NotEmpty(t, report.RunID)
	require.NoError(t, report.Err())

	f.reset()
	report = f.ingest(t)
	assert.Equal(t, 2, report.Unchanged)
	assert.Zero(t, report.Updated)
	assert.Zero(t, f.embedder.calls, "second pass must not embed")
	assert.Zero(t, f.store.writes, "second pass must not write")
}

func TestIngestIdempotentWithoutVersion(t *testing.T) {
	f := newFixture(t)
	f.source.put("a.pdf", "", p(1, "cats"))
	f.ingest(t)

	f.reset()
	extracts := f.source.extracts
	report := f.ingest(t)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, extracts+1, f.source.extracts, "no version means content is re-read")
	assert.Zero(t, f.embedder.calls)
	assert.Zero(t, f.store.writes)
}

func TestIngestVersionFastPath(t *testing.T) {
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"))
	f.ingest(t)

	extracts := f.source.extracts
	f.ingest(t)
	assert.Equal(t, extracts, f.source.extracts, "same version skips extraction")

	// Touched but identical content: cache version is refreshed, store untouched
	f.source.put("a.pdf", "v2", p(1, "cats"))
	f.reset()
	report := f.ingest(t)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, f.store.writes)

	entry, err := f.cache.GetEntry(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Version)
}

func TestIngestDiff(t *testing.T) {
	f := newFixture(t)
	f.source.put("doc.pdf", "v1", p(1, "A"), p(2, "B"), p(3, "C"))
	f.ingest(t)

	f.reset()
	f.source.put("doc.pdf", "v2", p(1, "A"), p(2, "B"), p(4, "D"))
	report := f.ingest(t)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.ChunksAdded)
	assert.Equal(t, 1, report.ChunksRemoved)
	assert.Equal(t, []string{"D"}, f.embedder.texts)
	assert.Equal(t, []string{key("doc.pdf", 4, "D")}, f.store.upserted)
	assert.Equal(t, []string{key("doc.pdf", 3, "C")}, f.store.deleted)

	keys, err := f.cache.GetKeys(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.True(t, keys.Equal(types.NewKeySet(
		key("doc.pdf", 1, "A"), key("doc.pdf", 2, "B"), key("doc.pdf", 4, "D"),
	)))
}

func TestIngestDeletionCompleteness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"), p(2, "dogs"))
	f.source.put("keep.pdf", "v1", p(1, "fish"))
	f.ingest(t)

	f.source.remove("a.pdf")
	report := f.ingest(t)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 2, report.ChunksRemoved)

	keys, err := f.store.Keys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Empty(t, keys)

	entry, err := f.cache.GetEntry(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Nil(t, entry)

	sources, err := f.cache.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.pdf"}, sources)
}

func TestIngestVanishedSourceSharesName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("x/report.pdf", "v1", p(1, "first"))
	f.source.put("y/report.pdf", "v1", p(1, "second"))
	f.ingest(t)

	f.source.remove("x/report.pdf")
	f.ingest(t)

	keys, err := f.store.Keys(ctx, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{key("y/report.pdf", 1, "second")}, keys)
}

func TestIngestVanishedSourceSharesContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"))
	f.source.put("backup/a.pdf", "v1", p(1, "cats"))
	f.ingest(t)

	keys, err := f.store.Keys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	f.source.remove("backup/a.pdf")
	report := f.ingest(t)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Unchanged)

	keys, err = f.store.Keys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{key("a.pdf", 1, "cats")}, keys)

	cached, err := f.cache.GetKeys(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, cached.Equal(types.NewKeySet(keys...)))
}

func TestIngestScenarioCatsDogsBirds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"), p(2, "dogs"))
	f.ingest(t)

	vec, err := f.embedder.Embed(ctx, []string{"cats"})
	require.NoError(t, err)
	res, err := f.store.Search(ctx, &types.SearchRequest{QueryVec: vec[0], Limit: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].Record.Position)
	assert.Equal(t, "a.pdf", res[0].Record.SourceName)

	f.source.put("a.pdf", "v2", p(1, "cats"), p(3, "birds"))
	f.ingest(t)

	keys, err := f.store.Keys(ctx, "a.pdf")
	require.NoError(t, err)
	want := []string{key("a.pdf", 1, "cats"), key("a.pdf", 3, "birds")}
	sort.Strings(want)
	assert.Equal(t, want, keys)
}

func TestIngestBatches(t *testing.T) {
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "one"), p(2, "two"), p(3, "three"), p(4, "four"), p(5, "five"))
	f.ingest(t)

	// batch size 2
	assert.Equal(t, 3, f.embedder.calls)
	assert.Len(t, f.store.upserted, 5)
}

func TestIngestFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("bad.pdf", "v1", p(1, "FAIL here"))
	f.source.put("broken.pdf", "v1", p(1, "whatever"))
	f.source.put("good.pdf", "v1", p(1, "fine"))
	f.source.extractErr["broken.pdf"] = errors.New("malformed xref table")
	f.embedder.failOn = "FAIL"

	report := f.ingest(t)
	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Failed)
	assert.ErrorIs(t, report.Errors["bad.pdf"], types.ErrEmbeddingFailed)
	assert.ErrorIs(t, report.Errors["broken.pdf"], types.ErrSourceUnavailable)
	assert.ErrorIs(t, report.Err(), types.ErrEmbeddingFailed)

	for _, id := range []string{"bad.pdf", "broken.pdf"} {
		entry, err := f.cache.GetEntry(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, entry, "failed source %s must not be cached", id)
	}
	entry, err := f.cache.GetEntry(ctx, "good.pdf")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Failure cleared: next pass picks the sources up
	f.embedder.failOn = ""
	delete(f.source.extractErr, "broken.pdf")
	report = f.ingest(t)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, report.Updated)
}

func TestIngestUpsertFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "one"), p(2, "two"), p(3, "three"))
	f.store.failUpsert = 2

	report := f.ingest(t)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Errors["a.pdf"], types.ErrStoreFailed)

	keys, err := f.store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "first batch must be rolled back")

	entry, err := f.cache.GetEntry(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestIngestDeleteFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("doc.pdf", "v1", p(1, "A"), p(2, "B"))
	f.ingest(t)

	f.source.put("doc.pdf", "v2", p(1, "A"), p(3, "C"))
	f.store.failDelete = key("doc.pdf", 2, "B")
	report := f.ingest(t)
	assert.Equal(t, 1, report.Failed)

	entry, err := f.cache.GetEntry(ctx, "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Version)
	assert.True(t, entry.Keys.Equal(types.NewKeySet(key("doc.pdf", 1, "A"), key("doc.pdf", 2, "B"))))

	keys, err := f.store.Keys(ctx, "doc.pdf")
	require.NoError(t, err)
	assert.NotContains(t, keys, key("doc.pdf", 3, "C"))

	f.store.failDelete = ""
	f.ingest(t)
	keys, err = f.store.Keys(ctx, "doc.pdf")
	require.NoError(t, err)
	want := []string{key("doc.pdf", 1, "A"), key("doc.pdf", 3, "C")}
	sort.Strings(want)
	assert.Equal(t, want, keys)
}

func TestIngestDimensionMismatch(t *testing.T) {
	f := newFixture(t)
	f.embedder.dims = testDims + 1
	f.source.put("a.pdf", "v1", p(1, "cats"))

	report := f.ingest(t)
	assert.ErrorIs(t, report.Errors["a.pdf"], types.ErrDimensionMismatch)
	assert.Empty(t, f.store.upserted)
}

func TestIngestEnumerationErrorKeepsSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"))
	f.source.put("b.pdf", "v1", p(1, "dogs"))
	f.ingest(t)

	f.source.remove("b.pdf")
	f.source.enumErr = errors.Join(types.ErrSourceUnavailable, errors.New("permission denied"))

	_, err := f.ingestor.Ingest(ctx, f.source)
	require.ErrorIs(t, err, types.ErrSourceUnavailable)

	sources, err := f.cache.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, sources, "incomplete enumeration must not prune")
}

func TestIngestEmptyDocumentIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.source.put("blank.pdf", "v1", p(1, "   "))

	report := f.ingest(t)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, f.embedder.calls)

	entry, err := f.cache.GetEntry(ctx, "blank.pdf")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Empty(t, entry.Keys)
}

func TestIngestTimeoutRetries(t *testing.T) {
	f := newFixture(t)
	f.embedder.block = true
	f.ingestor = New(Config{
		Store:         f.store,
		Cache:         f.cache,
		Embedding:     f.embedder,
		Chunker:       page.New(),
		SourceTimeout: 20 * time.Millisecond,
		Retries:       2,
	})
	f.source.put("slow.pdf", "v1", p(1, "slow"))

	report := f.ingest(t)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Errors["slow.pdf"], context.DeadlineExceeded)
	assert.Equal(t, 3, f.embedder.calls)
}

func TestIngestCancelled(t *testing.T) {
	f := newFixture(t)
	f.source.put("a.pdf", "v1", p(1, "cats"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ingestor.Ingest(ctx, f.source)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestParallelWorkers(t *testing.T) {
	f := newFixture(t)
	f.ingestor = New(Config{
		Store:     f.store,
		Cache:     f.cache,
		Embedding: f.embedder,
		Chunker:   page.New(),
		Workers:   4,
	})
	for _, id := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf", "f.pdf"} {
		f.source.put(id, "v1", p(1, "text of "+id), p(2, "more of "+id))
	}

	var (
		mu       sync.Mutex
		progress []types.IngestProgress
	)
	f.ingestor.onProgress = func(pr types.IngestProgress) {
		mu.Lock()
		progress = append(progress, pr)
		mu.Unlock()
	}

	report := f.ingest(t)
	assert.Equal(t, 6, report.Updated)
	assert.Equal(t, 12, report.ChunksAdded)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalChunks)

	require.NotEmpty(t, progress)
	assert.Equal(t, 6, f.ingestor.Progress().Processed)
}
