package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidArgument is returned when a caller passes an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderNotAvailable is returned when a provider is not available.
	ErrProviderNotAvailable = errors.New("provider not available")

	// ErrEmbeddingFailed is returned when the embedding provider is unreachable or returns malformed output.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreFailed is returned when a vector store read or write fails.
	ErrStoreFailed = errors.New("vector store operation failed")

	// ErrCacheFailed is returned when the ingestion cache cannot be read or written.
	ErrCacheFailed = errors.New("ingestion cache operation failed")

	// ErrSourceUnavailable is returned when a document is unreadable or corrupt.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSearchFailed is returned when search fails.
	ErrSearchFailed = errors.New("search failed")

	// ErrDimensionMismatch is returned when vector length differs from the collection dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("operation timed out")
)
