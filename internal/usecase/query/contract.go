package query

import (
	"context"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Embedder maps query content into the shared vector space.
type Embedder interface {
	Embed(ctx context.Context, content domain.Content, m modality.Modality) (domain.EmbeddingResult, error)
}

// Searcher runs batched cross-collection searches.
type Searcher interface {
	Search(
		ctx context.Context, embedding []float32, collections []domcol.Collection,
		modalities modality.Set, pageSize int,
	) ([]candidate.WithCollection, string, error)
	Next(ctx context.Context, sessionID string) ([]candidate.WithCollection, error)
	Collections() []domcol.Collection
}

// EntityReader reads stored embeddings of indexed items.
type EntityReader interface {
	Embedding(ctx context.Context, col domcol.Collection, id string) ([]float32, error)
}
