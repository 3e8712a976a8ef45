package common

import "errors"

var (
	// ErrInvalidConfig is returned for rejected parameters such as a chunk
	// overlap that is not smaller than the chunk size, or k < 1.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrExtractionParse marks a model response that could not be turned
	// into entities or relationships.
	ErrExtractionParse = errors.New("extraction parse failure")

	// ErrEmbeddingUnavailable wraps every failure of the embedding backend.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrGraphNotBuilt is returned when no graph has been published yet.
	ErrGraphNotBuilt = errors.New("graph not built")

	// ErrPersistence wraps snapshot save and load failures.
	ErrPersistence = errors.New("persistence failure")

	ErrBuildInProgress = errors.New("build already in progress")
)
