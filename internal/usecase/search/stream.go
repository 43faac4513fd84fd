package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// source is one live collection feeding the stream.
type source struct {
	collection collection.Collection
	it         candidate.Iterator
	// parked holds a pull that completed during a cancelled round.
	parked *pull
}

// pull is the outcome of one Next call on a source.
type pull struct {
	batch []candidate.Candidate
	done  bool
	err   error
}

// Stream merges per-collection iterators into pages ordered by ascending score.
//
// Each round pulls exactly one batch from every live source, appends the
// batches to a shared buffer, sorts it and cuts off one page. A source that
// holds better candidates behind its current batch can be deferred by one
// round; the ordering is exact only among candidates already pulled.
//
// Stream is not safe for concurrent use; the registry serializes access.
type Stream struct {
	sources      []*source
	buffer       []candidate.WithCollection
	pageSize     int
	roundTimeout time.Duration
	failures     []error
	closed       bool
	logger       *zap.Logger
}

// NewStream creates a stream over the given iterators, keyed by collection.
// The stream owns the iterators from now on.
func NewStream(
	iterators map[collection.Collection]candidate.Iterator, order []collection.Collection,
	pageSize int, logger *zap.Logger,
) *Stream {
	s := &Stream{
		sources:  make([]*source, 0, len(iterators)),
		pageSize: pageSize,
		logger:   logger,
	}
	for _, col := range order {
		if it, ok := iterators[col]; ok {
			s.sources = append(s.sources, &source{collection: col, it: it})
		}
	}
	return s
}

// WithRoundTimeout bounds the duration of one fan-out round.
func (s *Stream) WithRoundTimeout(d time.Duration) *Stream {
	s.roundTimeout = d
	return s
}

// Advance produces the next page. It returns domain.ErrEndOfResults once
// nothing is buffered and no source has anything left. A cancelled round
// leaves the stream as if the round never happened.
func (s *Stream) Advance(ctx context.Context) ([]candidate.WithCollection, error) {
	if s.closed {
		return nil, domain.ErrEndOfResults
	}

	if len(s.sources) > 0 {
		if err := s.round(ctx); err != nil {
			return nil, err
		}
	}

	if len(s.buffer) == 0 {
		// Either every source is exhausted or all of them returned empty batches.
		s.Close()
		return nil, domain.ErrEndOfResults
	}

	slices.SortStableFunc(s.buffer, func(a, b candidate.WithCollection) int {
		return cmp.Compare(a.Score, b.Score)
	})
	n := min(s.pageSize, len(s.buffer))
	page := slices.Clone(s.buffer[:n])
	s.buffer = slices.Delete(s.buffer, 0, n)
	return page, nil
}

// round pulls one batch from every live source and commits the results
// only when all pulls completed.
func (s *Stream) round(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SearchRoundDuration.Observe(time.Since(start).Seconds())
	}()

	rctx := ctx
	if s.roundTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.roundTimeout)
		defer cancel()
	}

	results := make([]*pull, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		if src.parked != nil {
			results[i] = src.parked
			continue
		}
		g.Go(func() error {
			batch, err := src.it.Next(rctx)
			switch {
			case errors.Is(err, domain.ErrIteratorDone):
				results[i] = &pull{done: true}
			case err != nil && rctx.Err() != nil:
				// Interrupted; nothing was consumed from this source.
			default:
				results[i] = &pull{batch: batch, err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := rctx.Err(); err != nil {
		for i, src := range s.sources {
			if results[i] != nil {
				src.parked = results[i]
			}
		}
		return fmt.Errorf("search round: %w", err)
	}

	live := s.sources[:0]
	for i, src := range s.sources {
		src.parked = nil
		res := results[i]
		switch {
		case res.done:
			s.closeSource(src)
		case res.err != nil:
			s.logger.Warn("Dropping collection after upstream failure",
				zap.String("collection", src.collection.String()), zap.Error(res.err))
			metrics.CollectionSkipsTotal.WithLabelValues("error").Inc()
			s.failures = append(s.failures, res.err)
			s.closeSource(src)
		default:
			for _, c := range res.batch {
				s.buffer = append(s.buffer, c.Tag(src.collection))
			}
			live = append(live, src)
		}
	}
	clear(s.sources[len(live):])
	s.sources = live
	return nil
}

func (s *Stream) closeSource(src *source) {
	if err := src.it.Close(); err != nil {
		s.logger.Warn("Failed to close iterator",
			zap.String("collection", src.collection.String()), zap.Error(err))
	}
}

// Failures returns the upstream errors that dropped collections so far.
func (s *Stream) Failures() []error {
	return s.failures
}

// Close releases every live iterator. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, src := range s.sources {
		s.closeSource(src)
	}
	s.sources = nil
	s.buffer = nil
	return nil
}
