package knowmem

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrBuilderConsumed is returned when appending to a builder that
	// has already been built into an immutable index.
	ErrBuilderConsumed = errors.New("index builder already consumed by Build")

	// ErrDimensionMismatch is returned when a vector's dimensionality
	// does not match the embedding store. Caller bug, fail fast.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMalformedQuery is returned when a search term group cannot be
	// compiled.
	ErrMalformedQuery = errors.New("malformed search term group")

	// ErrNoEmbeddingProvider is returned when a fuzzy operation needs
	// embeddings but the index was built without a provider.
	ErrNoEmbeddingProvider = errors.New("no embedding provider configured")

	// ErrStorageClosed is returned when operating on a closed storage
	// provider.
	ErrStorageClosed = errors.New("storage provider closed")
)

// DimensionError reports a vector dimensionality contract violation.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: store holds %d-d vectors, got %d-d", e.Want, e.Got)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// QueryCompileError reports a malformed query detected at compile time.
// Path locates the offending node inside the boolean tree.
type QueryCompileError struct {
	Path    string
	Message string
}

func (e *QueryCompileError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("query compile error at %s: %s", e.Path, e.Message)
	}
	return "query compile error: " + e.Message
}

func (e *QueryCompileError) Is(target error) bool {
	return target == ErrMalformedQuery
}

// ProviderError reports an embedding-provider failure during fuzzy-term
// preparation. It is attached to the failing sub-query; sibling
// branches of an Or / OrMax evaluation proceed without it.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SerializationError reports data that cannot cross the serialization
// boundary, including unknown knowledge variants.
type SerializationError struct {
	What    string
	Message string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error (%s): %s", e.What, e.Message)
}

// StorageError wraps a failure from a storage provider backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
