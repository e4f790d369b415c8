package vectorstore

import "errors"

var (
	ErrVectorStoreUnreachable = errors.New("vector store unreachable")
	ErrDimensionMismatch      = errors.New("embedding dimension mismatch")
)
