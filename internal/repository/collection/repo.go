package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/mediasearch/internal/db"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// store is the consumer interface for collection metadata (ISP).
type store interface {
	ListCollections(ctx context.Context) ([]string, error)
	DescribeCollection(ctx context.Context, name string) (*db.CollectionInfo, error)
	GetEntity(ctx context.Context, collection, id string) (*db.Entity, error)
}

// Repo implements usecase/index.Repository and usecase/query.EntityReader.
type Repo struct {
	store store
}

// New creates a collection repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// List returns every stored collection whose name follows the dataset__version scheme,
// sorted by name. Foreign collections are skipped.
func (r *Repo) List(ctx context.Context) ([]domcol.Collection, error) {
	names, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	cols := make([]domcol.Collection, 0, len(names))
	for _, name := range names {
		col, err := domcol.Parse(name)
		if err != nil {
			continue
		}
		cols = append(cols, col)
	}

	sort.Slice(cols, func(i, j int) bool {
		return cols[i].Name() < cols[j].Name()
	})

	return cols, nil
}

// Describe returns the row count and modalities of a collection.
func (r *Repo) Describe(ctx context.Context, col domcol.Collection) (domcol.Info, error) {
	info, err := r.store.DescribeCollection(ctx, col.Name())
	if err != nil {
		if errors.Is(err, db.ErrCollectionNotFound) {
			return domcol.Info{}, fmt.Errorf("collection %s: %w", col, domain.ErrNotFound)
		}
		return domcol.Info{}, fmt.Errorf("describe collection %s: %w", col, err)
	}

	mods := make(modality.Set, len(info.Partitions))
	for _, p := range info.Partitions {
		if m, err := modality.Parse(p); err == nil {
			mods[m] = struct{}{}
		}
	}

	return domcol.Info{
		Collection: col,
		RowCount:   info.RowCount,
		Modalities: mods.Sorted(),
	}, nil
}

// Embedding returns the stored embedding of an indexed item.
func (r *Repo) Embedding(ctx context.Context, col domcol.Collection, id string) ([]float32, error) {
	entity, err := r.store.GetEntity(ctx, col.Name(), id)
	if err != nil {
		if errors.Is(err, db.ErrEntityNotFound) || errors.Is(err, db.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%s in %s: %w", id, col, domain.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	if len(entity.Embedding) == 0 {
		return nil, fmt.Errorf("%s in %s has no embedding: %w", id, col, domain.ErrEntityNotFound)
	}
	return entity.Embedding, nil
}
