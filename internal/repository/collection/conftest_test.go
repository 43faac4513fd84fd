package collection

import (
	"context"
	"testing"

	"github.com/kailas-cloud/mediasearch/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	listFn     func(ctx context.Context) ([]string, error)
	describeFn func(ctx context.Context, name string) (*db.CollectionInfo, error)
	getFn      func(ctx context.Context, collection, id string) (*db.Entity, error)
}

func (m *mockStore) ListCollections(ctx context.Context) ([]string, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockStore) DescribeCollection(ctx context.Context, name string) (*db.CollectionInfo, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, name)
	}
	return &db.CollectionInfo{Name: name}, nil
}

func (m *mockStore) GetEntity(ctx context.Context, collection, id string) (*db.Entity, error) {
	if m.getFn != nil {
		return m.getFn(ctx, collection, id)
	}
	return nil, db.ErrEntityNotFound
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms), ms
}
