package pdfdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/localchat/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// fakeReader treats each file as pages separated by form feeds.
func fakeReader(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\f"), nil
}

func collect(t *testing.T, s *Source) []types.SourceDocument {
	t.Helper()
	var docs []types.SourceDocument
	for doc, err := range s.Documents(context.Background()) {
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func TestDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.pdf", "b")
	writeFile(t, root, "a.pdf", "a")
	writeFile(t, root, "sub/c.PDF", "c")
	writeFile(t, root, "notes.txt", "skip")
	writeFile(t, root, ".hidden/d.pdf", "skip")
	writeFile(t, root, "big.pdf", strings.Repeat("x", 100))

	s := NewWithReader(Config{Dir: root, MaxFileSize: 50}, fakeReader)
	docs := collect(t, s)

	require.Len(t, docs, 3)
	assert.Equal(t, "a.pdf", docs[0].ID)
	assert.Equal(t, "b.pdf", docs[1].ID)
	assert.Equal(t, "sub/c.PDF", docs[2].ID)
	assert.Equal(t, "c.PDF", docs[2].Name)
	assert.NotEmpty(t, docs[0].Version)
	assert.Equal(t, filepath.Join(root, "a.pdf"), docs[0].Path)

	// restartable
	assert.Len(t, collect(t, s), 3)
}

func TestDocumentsVersionChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "a")
	s := NewWithReader(Config{Dir: root}, fakeReader)
	before := collect(t, s)[0].Version

	writeFile(t, root, "a.pdf", "longer content")
	after := collect(t, s)[0].Version
	assert.NotEqual(t, before, after)
}

func TestDocumentsMissingDir(t *testing.T) {
	s := New(Config{Dir: filepath.Join(t.TempDir(), "missing")})

	var errs []error
	for _, err := range s.Documents(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], types.ErrSourceUnavailable)
}

func TestDocumentsEarlyBreak(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "a")
	writeFile(t, root, "b.pdf", "b")

	n := 0
	for range NewWithReader(Config{Dir: root}, fakeReader).Documents(context.Background()) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "cats  and\r\n  more cats\f   \fdogs\n\n\n\nbirds")
	s := NewWithReader(Config{Dir: root}, fakeReader)

	passages, err := s.Extract(context.Background(), types.SourceDocument{ID: "a.pdf", Name: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []types.Passage{
		{Position: 1, Text: "cats and\nmore cats"},
		{Position: 3, Text: "dogs\n\nbirds"},
	}, passages)
}

func TestExtractReaderError(t *testing.T) {
	boom := errors.New("boom")
	s := NewWithReader(Config{}, func(ctx context.Context, path string) ([]string, error) {
		return nil, boom
	})
	_, err := s.Extract(context.Background(), types.SourceDocument{ID: "x.pdf"})
	assert.ErrorIs(t, err, boom)
}

func TestReadPagesCorrupt(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.pdf", "this is not a pdf")

	_, err := ReadPages(context.Background(), filepath.Join(root, "broken.pdf"))
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)

	_, err = ReadPages(context.Background(), filepath.Join(root, "missing.pdf"))
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "", NormalizeText("  \n\t\n"))
	assert.Equal(t, "a b\nc\n\nd", NormalizeText("\n a   b \nc\n \n\n d \n\n"))
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("*.pdf", "a.pdf"))
	assert.True(t, matchGlob("*.pdf", "dir/a.pdf"))
	assert.True(t, matchGlob("**/*.pdf", "dir/sub/a.pdf"))
	assert.True(t, matchGlob("*.pdf", "A.PDF"))
	assert.False(t, matchGlob("*.pdf", "a.txt"))
	assert.True(t, matchGlob("reports/*.pdf", "reports/q1.pdf"))
}
