package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
)

// Service reports the collections this instance can search.
type Service struct {
	repo   Repository
	served []domcol.Collection
	logger *zap.Logger
}

// New creates an index service over the served collections.
func New(repo Repository, served []domcol.Collection, logger *zap.Logger) *Service {
	return &Service{repo: repo, served: served, logger: logger}
}

// List describes the served collections that exist in the vector store, ordered by name.
// A non-empty dataset keeps only that dataset's versions.
func (s *Service) List(ctx context.Context, dataset string) ([]domcol.Info, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	infos := make([]domcol.Info, 0, len(s.served))
	for _, col := range stored {
		if dataset != "" && col.Dataset != dataset {
			continue
		}
		if !slices.Contains(s.served, col) {
			continue
		}

		info, err := s.repo.Describe(ctx, col)
		if err != nil {
			// Dropped between List and Describe.
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug("Index vanished while listing", zap.Stringer("collection", col))
				continue
			}
			return nil, fmt.Errorf("describe index: %w", err)
		}
		infos = append(infos, info)
	}

	return infos, nil
}
