package index

import (
	"context"

	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
)

// Repository reads collection metadata from the vector store.
type Repository interface {
	List(ctx context.Context) ([]domcol.Collection, error)
	Describe(ctx context.Context, col domcol.Collection) (domcol.Info, error)
}
