package provider

import (
	"context"
	"iter"

	"github.com/spetr/localchat/pkg/types"
)

// Source produces the current set of documents to ingest.
// Documents is restartable: every call enumerates the source afresh.
type Source interface {
	// Name returns the source name (e.g., "pdfdir").
	Name() string

	// Documents lazily enumerates discoverable documents. A yielded error
	// means enumeration could not complete.
	Documents(ctx context.Context) iter.Seq2[types.SourceDocument, error]

	// Extract returns the passages of a document.
	Extract(ctx context.Context, doc types.SourceDocument) ([]types.Passage, error)
}

// SourceConfig contains configuration for sources.
type SourceConfig struct {
	Provider    string   // "pdfdir"
	Dir         string   // root directory
	Include     []string // glob patterns matched against file names
	MaxFileSize int64    // bytes, 0 = unlimited
}
