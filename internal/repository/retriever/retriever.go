package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/db"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// DefaultSearchLimit caps the hits one iterator ever returns.
const DefaultSearchLimit = 1024

// store is the consumer interface for the vector store (ISP).
type store interface {
	OpenCursor(ctx context.Context, q *db.CursorQuery) (db.Cursor, error)
}

// catalog is a store that can also describe collections.
type catalog interface {
	store
	DescribeCollection(ctx context.Context, name string) (*db.CollectionInfo, error)
}

// Retriever streams candidates of one collection. It borrows the store and never closes it.
type Retriever struct {
	store      store
	collection collection.Collection
	indexed    modality.Set
	limit      int
	retry      RetryConfig
	logger     *zap.Logger
}

// New creates a Retriever over the given indexed modalities.
func New(s store, col collection.Collection, indexed modality.Set, logger *zap.Logger) *Retriever {
	return &Retriever{
		store:      s,
		collection: col,
		indexed:    indexed,
		limit:      DefaultSearchLimit,
		retry:      DefaultRetryConfig(),
		logger:     logger.With(zap.String("collection", col.Name())),
	}
}

// Load discovers the indexed modalities from the collection's partitions.
func Load(ctx context.Context, s catalog, col collection.Collection, logger *zap.Logger) (*Retriever, error) {
	info, err := s.DescribeCollection(ctx, col.Name())
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", col.Name(), err)
	}
	indexed := make(modality.Set, len(info.Partitions))
	for _, p := range info.Partitions {
		m, err := modality.Parse(p)
		if err != nil {
			logger.Warn("Ignoring unknown partition",
				zap.String("collection", col.Name()), zap.String("partition", p))
			continue
		}
		indexed[m] = struct{}{}
	}
	if len(indexed) == 0 {
		return nil, fmt.Errorf("%s has no modality partitions: %w", col.Name(), domain.ErrUnsupportedModality)
	}
	return New(s, col, indexed, logger), nil
}

// WithLimit sets the per-iterator hard cap.
func (r *Retriever) WithLimit(limit int) *Retriever {
	if limit > 0 {
		r.limit = limit
	}
	return r
}

// WithRetry sets the retry policy for transient store errors.
func (r *Retriever) WithRetry(cfg RetryConfig) *Retriever {
	r.retry = cfg
	return r
}

// Collection returns the served collection.
func (r *Retriever) Collection() collection.Collection { return r.collection }

// Modalities returns the indexed modalities.
func (r *Retriever) Modalities() modality.Set { return r.indexed }

// CreateIterator opens a lazy scan restricted to the requested modalities the collection has.
// Fails with domain.ErrUnsupportedModality when there are none.
func (r *Retriever) CreateIterator(
	ctx context.Context, embedding []float32, modalities modality.Set, batchSize int,
) (candidate.Iterator, error) {
	requested := modalities.Intersect(r.indexed)
	if len(requested) == 0 {
		return nil, fmt.Errorf("%s: %w", r.collection, domain.ErrUnsupportedModality)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive: %w", domain.ErrInvalidRequest)
	}

	q := &db.CursorQuery{
		Collection: r.collection.Name(),
		Vector:     embedding,
		Partitions: requested.Strings(),
		BatchSize:  batchSize,
		Limit:      r.limit,
	}
	var cur db.Cursor
	err := invoke(ctx, r.retry, r.onRetry, func(ctx context.Context) error {
		c, err := r.store.OpenCursor(ctx, q)
		if err != nil {
			return err //nolint:wrapcheck // classified by the retryer
		}
		cur = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open cursor: %w", ctx.Err())
		}
		return nil, domain.NewUpstreamError(r.collection.Name(), err)
	}

	return &iterator{
		r:         r,
		cursor:    cur,
		requested: requested,
	}, nil
}

func (r *Retriever) onRetry(err error) {
	metrics.RetrieverRetriesTotal.WithLabelValues(r.collection.Name()).Inc()
	r.logger.Debug("Retrying vector store call", zap.Error(err))
}

// iterator adapts a db.Cursor to candidate batches. Not safe for concurrent Next calls.
type iterator struct {
	r         *Retriever
	cursor    db.Cursor
	requested modality.Set
	emitted   int

	closeOnce sync.Once
	closed    bool
}

// Next returns the next batch ordered by ascending score.
func (it *iterator) Next(ctx context.Context) ([]candidate.Candidate, error) {
	for {
		if it.closed || it.emitted >= it.r.limit {
			it.Close()
			return nil, domain.ErrIteratorDone
		}

		var hits []db.RawHit
		err := invoke(ctx, it.r.retry, it.r.onRetry, func(ctx context.Context) error {
			h, err := it.cursor.NextBatch(ctx)
			if err != nil {
				return err //nolint:wrapcheck // classified by the retryer
			}
			hits = h
			return nil
		})
		if errors.Is(err, db.ErrEndOfData) {
			it.Close()
			return nil, domain.ErrIteratorDone
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("next batch: %w", ctx.Err())
			}
			return nil, domain.NewUpstreamError(it.r.collection.Name(), err)
		}

		batch := it.decode(hits)
		if len(batch) == 0 {
			continue
		}
		if over := it.emitted + len(batch) - it.r.limit; over > 0 {
			batch = batch[:len(batch)-over]
		}
		it.emitted += len(batch)
		return batch, nil
	}
}

// decode converts raw hits, dropping any modality that was not requested.
func (it *iterator) decode(hits []db.RawHit) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(hits))
	for _, h := range hits {
		m := modality.Modality(h.Modality)
		if !it.requested.Has(m) {
			it.r.logger.Warn("Dropping hit with unrequested modality",
				zap.String("id", h.ID), zap.String("modality", h.Modality))
			continue
		}
		out = append(out, candidate.Candidate{
			ID:       h.ID,
			Path:     h.Path,
			Score:    score(h.Similarity),
			Modality: m,
			Span: candidate.Span{
				Start: int(math.Round(h.Start)),
				End:   int(math.Round(h.End)),
			},
		})
	}
	slices.SortStableFunc(out, func(a, b candidate.Candidate) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		default:
			return 0
		}
	})
	return out
}

// score turns cosine similarity into a lower-is-better distance.
func score(similarity float32) float64 {
	return 1 - float64(similarity)
}

// Close releases the cursor. Safe to call more than once.
func (it *iterator) Close() error {
	var err error
	it.closeOnce.Do(func() {
		it.closed = true
		if cerr := it.cursor.Close(); cerr != nil {
			it.r.logger.Warn("Failed to close cursor", zap.Error(cerr))
			err = fmt.Errorf("close cursor: %w", cerr)
		}
	})
	return err
}
