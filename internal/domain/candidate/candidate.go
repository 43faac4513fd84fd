package candidate

import (
	"context"

	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Span is the [Start, End] time range of a clip, in seconds. Zero for still content.
type Span struct {
	Start int
	End   int
}

// Candidate is one scored match from a single collection.
// Lower Score means more similar.
type Candidate struct {
	ID       string
	Path     string
	Score    float64
	Modality modality.Modality
	Span     Span
}

// WithCollection is a Candidate tagged with its owning collection.
type WithCollection struct {
	Candidate
	Collection collection.Collection
}

// Tag attaches the owning collection.
func (c Candidate) Tag(col collection.Collection) WithCollection {
	return WithCollection{Candidate: c, Collection: col}
}

// Key identifies a candidate across collections.
type Key struct {
	Collection collection.Collection
	ID         string
}

// Key returns the (collection, id) identity of the candidate.
func (c WithCollection) Key() Key {
	return Key{Collection: c.Collection, ID: c.ID}
}

// Iterator yields batches of candidates from one collection, best first.
// Next returns domain.ErrIteratorDone once nothing is left. Close is idempotent.
type Iterator interface {
	Next(ctx context.Context) ([]Candidate, error)
	Close() error
}
