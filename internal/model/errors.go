package model

import "errors"

var (
	// ErrEmbeddingUnavailable means the embedding function could not be reached.
	// Callers degrade to empty context.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrBackendStream means the inference backend failed while streaming.
	ErrBackendStream = errors.New("backend stream failure")

	// ErrStoreUnavailable means a history or index write did not complete.
	ErrStoreUnavailable = errors.New("store unavailable")
)
