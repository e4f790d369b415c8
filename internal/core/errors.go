package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrQueueFull      = errors.New("ingest queue is full")
	ErrJobNotTerminal = errors.New("job is still running")
	ErrInvalidStep    = errors.New("invalid step")
	ErrInvalidInput   = errors.New("invalid input")
)

// ExtractionError means the file (or the whole text layer) could not be read.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction failed: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// MetadataError is non-fatal; the step degrades to null fields.
type MetadataError struct {
	Err error
}

func (e *MetadataError) Error() string { return fmt.Sprintf("metadata extraction failed: %v", e.Err) }
func (e *MetadataError) Unwrap() error { return e.Err }

// EmbeddingError wraps a provider or inference failure.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// ChunkingError is non-fatal; the document ends up with no chunks.
type ChunkingError struct {
	Err error
}

func (e *ChunkingError) Error() string { return fmt.Sprintf("chunking failed: %v", e.Err) }
func (e *ChunkingError) Unwrap() error { return e.Err }

// StorageContentionError is a lock conflict that outlived the retry budget.
type StorageContentionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageContentionError) Error() string {
	return fmt.Sprintf("%s: store busy after %d attempts: %v", e.Op, e.Attempts, e.Err)
}
func (e *StorageContentionError) Unwrap() error { return e.Err }

// StorageIntegrityError is a constraint violation and points at a logic bug.
type StorageIntegrityError struct {
	Op  string
	Err error
}

func (e *StorageIntegrityError) Error() string {
	return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
}
func (e *StorageIntegrityError) Unwrap() error { return e.Err }
