package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmptyContent       = errors.New("empty content")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// FetchError is returned by the fetcher once a URL cannot be retrieved.
// Retryable reports whether the failure class was transient, even when the
// attempt budget is exhausted.
type FetchError struct {
	URL       string
	Status    int
	Attempts  int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ChunkingInvariantError means the chunker produced spans that gap, drift or
// overlap beyond the configured band. It is a bug, never a data problem.
type ChunkingInvariantError struct {
	URL    string
	Reason string
}

func (e *ChunkingInvariantError) Error() string {
	return fmt.Sprintf("chunking invariant violated for %s: %s", e.URL, e.Reason)
}

type EmbeddingError struct {
	URL string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed chunks of %s: %v", e.URL, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

type IndexWriteError struct {
	URL       string
	Stage     string
	Retryable bool
	Err       error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write (%s) for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

type ModelMismatchError struct {
	Indexed   string
	Requested string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("embedding model mismatch: index built with %q, got %q", e.Indexed, e.Requested)
}

type RetrievalTimeoutError struct {
	Stage string
	Err   error
}

func (e *RetrievalTimeoutError) Error() string {
	return fmt.Sprintf("retrieval timed out during %s: %v", e.Stage, e.Err)
}

func (e *RetrievalTimeoutError) Unwrap() error { return e.Err }

type GenerationTimeoutError struct {
	Err error
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("generation timed out: %v", e.Err)
}

func (e *GenerationTimeoutError) Unwrap() error { return e.Err }

type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// FailureKind classifies an ingestion error for crawl reports and job records.
func FailureKind(err error) string {
	var fe *FetchError
	var ee *ExtractionError
	var ce *ChunkingInvariantError
	var me *EmbeddingError
	var we *IndexWriteError
	switch {
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &ee):
		return "extraction"
	case errors.As(err, &ce):
		return "internal"
	case errors.As(err, &me):
		return "embedding"
	case errors.As(err, &we):
		return "index_write"
	default:
		return "unknown"
	}
}
