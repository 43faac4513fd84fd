package search

import (
	"context"

	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Retriever opens per-collection candidate iterators.
type Retriever interface {
	CreateIterator(
		ctx context.Context, embedding []float32, modalities modality.Set, batchSize int,
	) (candidate.Iterator, error)
}

// stream is a resumable page producer held by the session registry.
type stream interface {
	Advance(ctx context.Context) ([]candidate.WithCollection, error)
	Close() error
}
