package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// Service runs paginated searches across collections.
type Service struct {
	retrievers   map[collection.Collection]Retriever
	sessions     *Registry
	roundTimeout time.Duration
	newID        func() string
	logger       *zap.Logger
}

// New creates a search service over one retriever per collection.
func New(retrievers map[collection.Collection]Retriever, sessions *Registry, logger *zap.Logger) *Service {
	return &Service{
		retrievers: retrievers,
		sessions:   sessions,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// WithRoundTimeout bounds each fan-out round of a session.
func (s *Service) WithRoundTimeout(d time.Duration) *Service {
	s.roundTimeout = d
	return s
}

// Collections lists the collections the service can search.
func (s *Service) Collections() []collection.Collection {
	out := make([]collection.Collection, 0, len(s.retrievers))
	for col := range s.retrievers {
		out = append(out, col)
	}
	slices.SortFunc(out, func(a, b collection.Collection) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

// Search opens a session over the requested collections and returns its first page.
// Collections that are unknown, lack the requested modalities or fail to open
// are skipped. Fails with domain.ErrNoResults when nothing can be returned.
func (s *Service) Search(
	ctx context.Context, embedding []float32, collections []collection.Collection,
	modalities modality.Set, pageSize int,
) ([]candidate.WithCollection, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("page size must be positive: %w", domain.ErrInvalidRequest)
	}
	if len(modalities) == 0 {
		return nil, "", fmt.Errorf("no modalities requested: %w", domain.ErrInvalidRequest)
	}

	order := dedupe(collections)
	iterators, failures, err := s.open(ctx, embedding, order, modalities, pageSize)
	if err != nil {
		return nil, "", err
	}
	if len(iterators) == 0 {
		if len(failures) > 0 {
			return nil, "", fmt.Errorf("no collection available: %w", errors.Join(failures...))
		}
		return nil, "", fmt.Errorf("no collection supports %v: %w", modalities.Strings(), domain.ErrNoResults)
	}

	st := NewStream(iterators, order, pageSize, s.logger).WithRoundTimeout(s.roundTimeout)
	id := s.newID()
	s.sessions.Put(id, st)

	page, err := s.sessions.Advance(ctx, id)
	switch {
	case errors.Is(err, domain.ErrEndOfResults):
		if f := st.Failures(); len(f) > 0 && len(f) == len(iterators) {
			return nil, "", fmt.Errorf("every collection failed: %w", errors.Join(f...))
		}
		return nil, "", fmt.Errorf("empty first page: %w", domain.ErrNoResults)
	case err != nil:
		s.sessions.Remove(id)
		return nil, "", fmt.Errorf("first page: %w", err)
	}

	s.logger.Debug("Search session opened",
		zap.String("session_id", id),
		zap.Int("collections", len(iterators)),
		zap.Int("hits", len(page)))
	return page, id, nil
}

// Next returns the following page of a session.
// domain.ErrEndOfResults marks the end; domain.ErrSessionNotFound an unknown id.
func (s *Service) Next(ctx context.Context, sessionID string) ([]candidate.WithCollection, error) {
	return s.sessions.Advance(ctx, sessionID)
}

// open creates iterators concurrently. Per-collection failures are returned,
// cancellation aborts the whole call.
func (s *Service) open(
	ctx context.Context, embedding []float32, order []collection.Collection,
	modalities modality.Set, batchSize int,
) (map[collection.Collection]candidate.Iterator, []error, error) {
	its := make([]candidate.Iterator, len(order))
	errs := make([]error, len(order))

	var g errgroup.Group
	for i, col := range order {
		r, ok := s.retrievers[col]
		if !ok {
			s.logger.Debug("Skipping unknown collection", zap.String("collection", col.String()))
			metrics.CollectionSkipsTotal.WithLabelValues("unknown").Inc()
			continue
		}
		g.Go(func() error {
			its[i], errs[i] = r.CreateIterator(ctx, embedding, modalities, batchSize)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for _, it := range its {
			if it != nil {
				_ = it.Close()
			}
		}
		return nil, nil, fmt.Errorf("open iterators: %w", err)
	}

	iterators := make(map[collection.Collection]candidate.Iterator, len(order))
	var failures []error
	for i, col := range order {
		switch err := errs[i]; {
		case err == nil && its[i] != nil:
			iterators[col] = its[i]
		case errors.Is(err, domain.ErrUnsupportedModality):
			s.logger.Debug("Skipping collection without requested modalities",
				zap.String("collection", col.String()))
			metrics.CollectionSkipsTotal.WithLabelValues("modality").Inc()
		case err != nil:
			s.logger.Warn("Skipping collection", zap.String("collection", col.String()), zap.Error(err))
			metrics.CollectionSkipsTotal.WithLabelValues("upstream").Inc()
			failures = append(failures, err)
		}
	}
	return iterators, failures, nil
}

func dedupe(cols []collection.Collection) []collection.Collection {
	seen := make(map[collection.Collection]struct{}, len(cols))
	out := make([]collection.Collection, 0, len(cols))
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
