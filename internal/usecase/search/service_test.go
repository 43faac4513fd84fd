package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

func newTestService(ttl time.Duration, retrievers map[collection.Collection]*mockRetriever) (*Service, *Registry) {
	m := make(map[collection.Collection]Retriever, len(retrievers))
	for col, r := range retrievers {
		m[col] = r
	}
	reg := NewRegistry(16, ttl, zap.NewNop())
	return New(m, reg, zap.NewNop()), reg
}

func ids(page []candidate.WithCollection) []string {
	out := make([]string, len(page))
	for i, c := range page {
		out[i] = c.Collection.Dataset + "/" + c.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSearch_TwoCollectionsScenario(t *testing.T) {
	svc, reg := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {
			indexed: modality.NewSet(modality.Video),
			items:   []candidate.Candidate{cand("v1", 0.12, modality.Video), cand("v2", 0.30, modality.Video)},
		},
		coco: {
			indexed: modality.NewSet(modality.Image),
			items:   []candidate.Candidate{cand("i1", 0.05, modality.Image), cand("i2", 0.40, modality.Image)},
		},
	})
	ctx := context.Background()
	mods := modality.NewSet(modality.Video, modality.Image)

	page, id, err := svc.Search(ctx, []float32{1, 0}, []collection.Collection{msvd, coco}, mods, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("session id is not a UUID: %q", id)
	}
	if got, want := ids(page), []string{"COCO/i1", "MSVD/v1"}; !equalIDs(got, want) {
		t.Fatalf("first page = %v, expected %v", got, want)
	}

	page, err = svc.Next(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ids(page), []string{"MSVD/v2", "COCO/i2"}; !equalIDs(got, want) {
		t.Fatalf("second page = %v, expected %v", got, want)
	}

	if _, err = svc.Next(ctx, id); !errors.Is(err, domain.ErrEndOfResults) {
		t.Fatalf("expected ErrEndOfResults, got %v", err)
	}
	if _, err = svc.Next(ctx, id); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after the end, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("expected no sessions left, got %d", reg.Len())
	}
}

func TestSearch_SkipsCollectionWithoutModality(t *testing.T) {
	audioOnly := &mockRetriever{
		indexed: modality.NewSet(modality.Audio),
		items:   []candidate.Candidate{cand("a1", 0.01, modality.Audio)},
	}
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {indexed: modality.NewSet(modality.Video), items: []candidate.Candidate{cand("v1", 0.2, modality.Video)}},
		coco: {indexed: modality.NewSet(modality.Image), items: []candidate.Candidate{cand("i1", 0.1, modality.Image)}},
		asmr: audioOnly,
	})

	page, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd, coco, asmr}, modality.NewSet(modality.Video, modality.Image), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ids(page), []string{"COCO/i1", "MSVD/v1"}; !equalIDs(got, want) {
		t.Errorf("page = %v, expected %v", got, want)
	}
	if len(audioOnly.iterators()) != 0 {
		t.Error("unsupported collection should not produce an iterator")
	}
}

func TestSearch_SkipsUnknownCollection(t *testing.T) {
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {indexed: modality.NewSet(modality.Video), items: []candidate.Candidate{cand("v1", 0.2, modality.Video)}},
	})

	page, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{{Dataset: "NOPE", Version: "1"}, msvd}, modality.NewSet(modality.Video), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].Collection != msvd {
		t.Errorf("unexpected page %v", ids(page))
	}
}

func TestSearch_NoCollectionLeft(t *testing.T) {
	svc, reg := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {indexed: modality.NewSet(modality.Video)},
	})

	_, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd, coco}, modality.NewSet(modality.Audio), 5)
	if !errors.Is(err, domain.ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("no session should be registered, got %d", reg.Len())
	}
}

func TestSearch_EmptyFirstPage(t *testing.T) {
	empty := &mockRetriever{indexed: modality.NewSet(modality.Video)}
	svc, reg := newTestService(time.Minute, map[collection.Collection]*mockRetriever{msvd: empty})

	_, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd}, modality.NewSet(modality.Video), 5)
	if !errors.Is(err, domain.ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("exhausted session should be removed, got %d", reg.Len())
	}
	for _, it := range empty.iterators() {
		if it.closed.Load() == 0 {
			t.Error("iterator not closed")
		}
	}
}

func TestSearch_AllCollectionsUnavailable(t *testing.T) {
	upstream := domain.NewUpstreamError("MSVD__5sec", errors.New("connection refused"))
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {indexed: modality.NewSet(modality.Video), openErr: upstream},
	})

	_, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd}, modality.NewSet(modality.Video), 5)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSearch_OneCollectionUnavailable(t *testing.T) {
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {
			indexed: modality.NewSet(modality.Video),
			openErr: domain.NewUpstreamError("MSVD__5sec", errors.New("connection refused")),
		},
		coco: {indexed: modality.NewSet(modality.Video), items: []candidate.Candidate{cand("i1", 0.1, modality.Video)}},
	})

	page, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd, coco}, modality.NewSet(modality.Video), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].Collection != coco {
		t.Errorf("unexpected page %v", ids(page))
	}
}

func TestSearch_InvalidArguments(t *testing.T) {
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{})

	_, _, err := svc.Search(context.Background(), []float32{1}, []collection.Collection{msvd}, modality.NewSet(modality.Video), 0)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for page size 0, got %v", err)
	}
	_, _, err = svc.Search(context.Background(), []float32{1}, []collection.Collection{msvd}, modality.NewSet(), 5)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for no modalities, got %v", err)
	}
}

func TestSearch_DuplicateCollectionsSearchedOnce(t *testing.T) {
	r := &mockRetriever{
		indexed: modality.NewSet(modality.Video),
		items:   []candidate.Candidate{cand("v1", 0.1, modality.Video), cand("v2", 0.2, modality.Video)},
	}
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{msvd: r})

	page, _, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd, msvd}, modality.NewSet(modality.Video), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("expected 2 hits, got %v", ids(page))
	}
	if len(r.iterators()) != 1 {
		t.Errorf("expected a single iterator, got %d", len(r.iterators()))
	}
}

func TestSearch_EvictedSessionClosesIterators(t *testing.T) {
	r := &mockRetriever{
		indexed: modality.NewSet(modality.Video),
		items: []candidate.Candidate{
			cand("v1", 0.1, modality.Video), cand("v2", 0.2, modality.Video), cand("v3", 0.3, modality.Video),
		},
	}
	svc, _ := newTestService(30*time.Millisecond, map[collection.Collection]*mockRetriever{msvd: r})

	_, id, err := svc.Search(context.Background(), []float32{1},
		[]collection.Collection{msvd}, modality.NewSet(modality.Video), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	it := r.iterators()[0]
	waitFor(t, func() bool { return it.closed.Load() > 0 })

	if _, err := svc.Next(context.Background(), id); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after TTL, got %v", err)
	}
}

func TestSearch_CancelledFirstPageDropsSession(t *testing.T) {
	r := &mockRetriever{indexed: modality.NewSet(modality.Video)}
	svc, reg := newTestService(time.Minute, map[collection.Collection]*mockRetriever{msvd: r})
	svc.newID = func() string { return "fixed" }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.Search(ctx, []float32{1}, []collection.Collection{msvd}, modality.NewSet(modality.Video), 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("expected no session, got %d", reg.Len())
	}
}

func TestSearch_SessionsAreIndependent(t *testing.T) {
	svc, _ := newTestService(time.Minute, map[collection.Collection]*mockRetriever{
		msvd: {
			indexed: modality.NewSet(modality.Video),
			items:   []candidate.Candidate{cand("v1", 0.1, modality.Video), cand("v2", 0.2, modality.Video)},
		},
	})
	ctx := context.Background()
	cols := []collection.Collection{msvd}
	mods := modality.NewSet(modality.Video)

	_, id1, err := svc.Search(ctx, []float32{1}, cols, mods, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, id2, err := svc.Search(ctx, []float32{1}, cols, mods, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 == id2 {
		t.Fatal("session ids must differ")
	}

	p1, err := svc.Next(ctx, id1)
	if err != nil || p1[0].ID != "v2" {
		t.Fatalf("session 1 second page: %v %v", ids(p1), err)
	}
	p2, err := svc.Next(ctx, id2)
	if err != nil || p2[0].ID != "v2" {
		t.Fatalf("session 2 second page: %v %v", ids(p2), err)
	}
}
