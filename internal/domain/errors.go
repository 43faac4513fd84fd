package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals malformed user input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrUnsupportedModality signals that a collection has none of the requested modalities.
	ErrUnsupportedModality = errors.New("unsupported modality for this collection")
	// ErrNoResults signals that no collection can serve the query or nothing matched.
	ErrNoResults = errors.New("no results")
	// ErrEndOfResults signals that a search session was drained.
	ErrEndOfResults = errors.New("end of results")
	// ErrSessionNotFound signals an unknown, expired or finished session.
	ErrSessionNotFound = errors.New("search session not found")
	// ErrIteratorDone is returned by a per-collection iterator once it has nothing left.
	ErrIteratorDone = errors.New("iterator done")
	// ErrEntityNotFound signals a missing indexed item.
	ErrEntityNotFound = errors.New("indexed entity not found")
	// ErrUpstreamUnavailable signals a vector store failure that survived retries.
	ErrUpstreamUnavailable = errors.New("vector store unavailable")

	// ErrUnsupportedContent signals query content the embedder cannot handle.
	ErrUnsupportedContent = errors.New("unsupported content")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// UpstreamError wraps ErrUpstreamUnavailable with the failing collection.
type UpstreamError struct {
	Collection string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstreamUnavailable.Error(), e.Collection, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstreamUnavailable, e.Err} }

// NewUpstreamError creates an upstream failure for the named collection.
func NewUpstreamError(collection string, err error) error {
	return &UpstreamError{Collection: collection, Err: err}
}
