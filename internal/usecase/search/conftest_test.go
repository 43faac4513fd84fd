package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

var (
	msvd = collection.Collection{Dataset: "MSVD", Version: "5sec"}
	coco = collection.Collection{Dataset: "COCO", Version: "val2017"}
	asmr = collection.Collection{Dataset: "ASMR", Version: "v1"}
)

// mockIterator replays fixed batches and records calls.
type mockIterator struct {
	batches [][]candidate.Candidate
	// errAt fails the n-th pull (0-based, counted after blocked calls).
	errAt map[int]error
	// block makes the first block calls wait for cancellation.
	block int

	calls  atomic.Int32
	closed atomic.Int32
}

func (m *mockIterator) Next(ctx context.Context) ([]candidate.Candidate, error) {
	n := int(m.calls.Add(1)) - 1
	if n < m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	n -= m.block
	if err, ok := m.errAt[n]; ok {
		return nil, err
	}
	if n >= len(m.batches) {
		return nil, domain.ErrIteratorDone
	}
	return m.batches[n], nil
}

func (m *mockIterator) Close() error {
	m.closed.Add(1)
	return nil
}

// mockRetriever hands out mockIterators over its items.
type mockRetriever struct {
	indexed modality.Set
	items   []candidate.Candidate
	// batches overrides chunking of items.
	batches [][]candidate.Candidate
	openErr error

	mu  sync.Mutex
	its []*mockIterator
}

func (m *mockRetriever) CreateIterator(
	_ context.Context, _ []float32, modalities modality.Set, batchSize int,
) (candidate.Iterator, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if len(modalities.Intersect(m.indexed)) == 0 {
		return nil, domain.ErrUnsupportedModality
	}
	batches := m.batches
	if batches == nil {
		batches = chunk(m.items, batchSize)
	}
	it := &mockIterator{batches: batches}
	m.mu.Lock()
	m.its = append(m.its, it)
	m.mu.Unlock()
	return it, nil
}

func (m *mockRetriever) iterators() []*mockIterator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mockIterator(nil), m.its...)
}

func chunk(items []candidate.Candidate, size int) [][]candidate.Candidate {
	var out [][]candidate.Candidate
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

func cand(id string, score float64, m modality.Modality) candidate.Candidate {
	return candidate.Candidate{ID: id, Path: id + ".bin", Score: score, Modality: m}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func assertSorted(t *testing.T, page []candidate.WithCollection) {
	t.Helper()
	for i := 1; i < len(page); i++ {
		if page[i-1].Score > page[i].Score {
			t.Fatalf("page not sorted at %d: %f > %f", i, page[i-1].Score, page[i].Score)
		}
	}
}
