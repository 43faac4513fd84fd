package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

func newTestStream(pageSize int, its map[collection.Collection]*mockIterator, order ...collection.Collection) *Stream {
	m := make(map[collection.Collection]candidate.Iterator, len(its))
	for col, it := range its {
		m[col] = it
	}
	return NewStream(m, order, pageSize, zap.NewNop())
}

func drain(t *testing.T, s *Stream) [][]candidate.WithCollection {
	t.Helper()
	var pages [][]candidate.WithCollection
	for range 100 {
		page, err := s.Advance(context.Background())
		if errors.Is(err, domain.ErrEndOfResults) {
			return pages
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pages = append(pages, page)
	}
	t.Fatal("stream did not terminate")
	return nil
}

func TestStream_PagesSortedWithoutDuplicates(t *testing.T) {
	a := &mockIterator{batches: [][]candidate.Candidate{
		{cand("a1", 0.10, modality.Video), cand("a2", 0.20, modality.Video), cand("a3", 0.25, modality.Video)},
		{cand("a4", 0.50, modality.Video), cand("a5", 0.70, modality.Video)},
	}}
	b := &mockIterator{batches: [][]candidate.Candidate{
		{cand("b1", 0.05, modality.Image), cand("b2", 0.30, modality.Image), cand("b3", 0.31, modality.Image)},
		{cand("b4", 0.32, modality.Image)},
	}}
	c := &mockIterator{batches: [][]candidate.Candidate{
		{cand("c1", 0.15, modality.Audio)},
	}}
	s := newTestStream(3, map[collection.Collection]*mockIterator{msvd: a, coco: b, asmr: c}, msvd, coco, asmr)

	pages := drain(t, s)
	seen := make(map[candidate.Key]bool)
	total := 0
	for _, page := range pages {
		if len(page) > 3 {
			t.Errorf("page longer than page size: %d", len(page))
		}
		assertSorted(t, page)
		for _, hit := range page {
			if seen[hit.Key()] {
				t.Errorf("duplicate hit %v", hit.Key())
			}
			seen[hit.Key()] = true
			total++
		}
	}
	if total != 10 {
		t.Errorf("expected 10 hits in total, got %d", total)
	}
	for name, it := range map[string]*mockIterator{"a": a, "b": b, "c": c} {
		if it.closed.Load() == 0 {
			t.Errorf("iterator %s not closed", name)
		}
	}
}

func TestStream_OneBatchPerRound(t *testing.T) {
	// B's best item sits behind a worse first batch, so A's item wins the first page.
	a := &mockIterator{batches: [][]candidate.Candidate{{cand("a", 0.1, modality.Video)}}}
	b := &mockIterator{batches: [][]candidate.Candidate{
		{cand("b-worse", 0.9, modality.Video)},
		{cand("b-best", 0.05, modality.Video)},
	}}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: a, coco: b}, msvd, coco)

	page, err := s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "a" || page[0].Collection != msvd {
		t.Fatalf("expected A's 0.1 item first, got %+v", page)
	}

	page, err = s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page[0].ID != "b-best" {
		t.Errorf("expected b-best on the second page, got %s", page[0].ID)
	}
}

func TestStream_DrainsBufferAfterSourcesDone(t *testing.T) {
	a := &mockIterator{batches: [][]candidate.Candidate{{
		cand("a1", 0.1, modality.Video), cand("a2", 0.2, modality.Video),
		cand("a3", 0.3, modality.Video), cand("a4", 0.4, modality.Video),
	}}}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: a}, msvd)

	pages := drain(t, s)
	if len(pages) != 4 {
		t.Fatalf("expected 4 single-hit pages, got %d", len(pages))
	}
	for i, want := range []string{"a1", "a2", "a3", "a4"} {
		if pages[i][0].ID != want {
			t.Errorf("page %d = %s, expected %s", i, pages[i][0].ID, want)
		}
	}
}

func TestStream_EmptyRoundTerminates(t *testing.T) {
	a := &mockIterator{batches: [][]candidate.Candidate{{}, {}, {}}}
	b := &mockIterator{batches: [][]candidate.Candidate{{}, {}, {}}}
	s := newTestStream(2, map[collection.Collection]*mockIterator{msvd: a, coco: b}, msvd, coco)

	if _, err := s.Advance(context.Background()); !errors.Is(err, domain.ErrEndOfResults) {
		t.Fatalf("expected ErrEndOfResults, got %v", err)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("expected a single round, got %d/%d pulls", a.calls.Load(), b.calls.Load())
	}
	if a.closed.Load() == 0 || b.closed.Load() == 0 {
		t.Error("expected live iterators to be closed")
	}
	if _, err := s.Advance(context.Background()); !errors.Is(err, domain.ErrEndOfResults) {
		t.Errorf("expected ErrEndOfResults again, got %v", err)
	}
}

func TestStream_EmptyBatchKeepsCollectionLive(t *testing.T) {
	a := &mockIterator{batches: [][]candidate.Candidate{
		{cand("a1", 0.5, modality.Video)},
		{cand("a2", 0.6, modality.Video)},
	}}
	b := &mockIterator{batches: [][]candidate.Candidate{
		{},
		{cand("b1", 0.01, modality.Image)},
	}}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: a, coco: b}, msvd, coco)

	page, err := s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page[0].ID != "a1" {
		t.Fatalf("expected a1 first, got %s", page[0].ID)
	}
	if b.closed.Load() != 0 {
		t.Fatal("collection with an empty batch was dropped")
	}

	page, err = s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page[0].ID != "b1" || page[0].Collection != coco {
		t.Errorf("expected b1 from the second round, got %+v", page[0])
	}
	if b.calls.Load() != 2 {
		t.Errorf("expected 2 pulls from b, got %d", b.calls.Load())
	}
}

func TestStream_UpstreamFailureDropsOnlyThatCollection(t *testing.T) {
	failing := &mockIterator{
		batches: [][]candidate.Candidate{{cand("a1", 0.1, modality.Video)}},
		errAt:   map[int]error{1: domain.NewUpstreamError("MSVD__5sec", errors.New("connection reset"))},
	}
	healthy := &mockIterator{batches: [][]candidate.Candidate{
		{cand("b1", 0.2, modality.Image)},
		{cand("b2", 0.3, modality.Image)},
		{cand("b3", 0.4, modality.Image)},
	}}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: failing, coco: healthy}, msvd, coco)

	pages := drain(t, s)
	var ids []string
	for _, p := range pages {
		ids = append(ids, p[0].ID)
	}
	want := []string{"a1", "b1", "b2", "b3"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("page %d = %s, expected %s", i, ids[i], want[i])
		}
	}
	if failing.closed.Load() == 0 {
		t.Error("failed iterator should be closed")
	}
	if f := s.Failures(); len(f) != 1 || !errors.Is(f[0], domain.ErrUpstreamUnavailable) {
		t.Errorf("expected one upstream failure, got %v", f)
	}
}

func TestStream_CancelledRoundIsReplayed(t *testing.T) {
	fast := &mockIterator{batches: [][]candidate.Candidate{{cand("a1", 0.3, modality.Video)}}}
	slow := &mockIterator{
		batches: [][]candidate.Candidate{{cand("b1", 0.1, modality.Image)}},
		block:   1,
	}
	s := newTestStream(2, map[collection.Collection]*mockIterator{msvd: fast, coco: slow}, msvd, coco)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Advance(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	page, err := s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b1" || page[1].ID != "a1" {
		t.Fatalf("expected [b1 a1], got %+v", page)
	}
	if n := fast.calls.Load(); n != 1 {
		t.Errorf("completed pull should be replayed, not repeated: %d calls", n)
	}
}

func TestStream_RoundTimeout(t *testing.T) {
	slow := &mockIterator{batches: [][]candidate.Candidate{{cand("a", 0.1, modality.Video)}}, block: 1}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: slow}, msvd).
		WithRoundTimeout(10 * time.Millisecond)

	if _, err := s.Advance(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	page, err := s.Advance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if len(page) != 1 || page[0].ID != "a" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	a := &mockIterator{batches: [][]candidate.Candidate{{cand("a", 0.1, modality.Video)}}}
	s := newTestStream(1, map[collection.Collection]*mockIterator{msvd: a}, msvd)

	_ = s.Close()
	_ = s.Close()
	if a.closed.Load() != 1 {
		t.Errorf("expected one close, got %d", a.closed.Load())
	}
	if _, err := s.Advance(context.Background()); !errors.Is(err, domain.ErrEndOfResults) {
		t.Errorf("expected ErrEndOfResults after Close, got %v", err)
	}
}
