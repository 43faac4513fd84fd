package collection

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kailas-cloud/mediasearch/internal/db"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

var msvd = domcol.Collection{Dataset: "MSVD", Version: "5sec"}

// --- List ---

func TestList_ParsesAndSorts(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.listFn = func(_ context.Context) ([]string, error) {
		return []string{"MSVD__5sec", "scratch", "COCO__val2017"}, nil
	}

	cols, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []domcol.Collection{{Dataset: "COCO", Version: "val2017"}, msvd}
	if !slices.Equal(cols, want) {
		t.Fatalf("expected %v, got %v", want, cols)
	}
}

func TestList_Error(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.listFn = func(_ context.Context) ([]string, error) {
		return nil, &db.Error{Op: db.OpList, Err: errors.New("unavailable")}
	}

	_, err := repo.List(context.Background())
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

// --- Describe ---

func TestDescribe_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.describeFn = func(_ context.Context, name string) (*db.CollectionInfo, error) {
		if name != "MSVD__5sec" {
			t.Errorf("unexpected name: %s", name)
		}
		return &db.CollectionInfo{
			Name:       name,
			Partitions: []string{"language", "audio", "junk", "video", "hybrid"},
			RowCount:   1970,
		}, nil
	}

	info, err := repo.Describe(context.Background(), msvd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.RowCount != 1970 {
		t.Errorf("expected 1970 rows, got %d", info.RowCount)
	}
	want := []modality.Modality{modality.Hybrid, modality.Video, modality.Audio, modality.Text}
	if !slices.Equal(info.Modalities, want) {
		t.Errorf("expected %v, got %v", want, info.Modalities)
	}
}

func TestDescribe_NotFound(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.describeFn = func(_ context.Context, name string) (*db.CollectionInfo, error) {
		return nil, db.ErrCollectionNotFound
	}

	_, err := repo.Describe(context.Background(), msvd)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- Embedding ---

func TestEmbedding_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.getFn = func(_ context.Context, collection, id string) (*db.Entity, error) {
		if collection != "MSVD__5sec" || id != "42" {
			t.Errorf("unexpected lookup %s/%s", collection, id)
		}
		return &db.Entity{ID: id, Embedding: []float32{0.6, 0.8}}, nil
	}

	vec, err := repo.Embedding(context.Background(), msvd, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(vec, []float32{0.6, 0.8}) {
		t.Errorf("unexpected embedding: %v", vec)
	}
}

func TestEmbedding_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ent  *db.Entity
	}{
		{"missing entity", db.ErrEntityNotFound, nil},
		{"missing collection", db.ErrCollectionNotFound, nil},
		{"empty embedding", nil, &db.Entity{ID: "42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, ms := newTestRepo(t)
			ms.getFn = func(_ context.Context, _, _ string) (*db.Entity, error) {
				return tt.ent, tt.err
			}

			_, err := repo.Embedding(context.Background(), msvd, "42")
			if !errors.Is(err, domain.ErrEntityNotFound) {
				t.Fatalf("expected ErrEntityNotFound, got %v", err)
			}
		})
	}
}

func TestEmbedding_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.getFn = func(_ context.Context, _, _ string) (*db.Entity, error) {
		return nil, &db.Error{Op: db.OpQuery, Err: errors.New("timeout")}
	}

	_, err := repo.Embedding(context.Background(), msvd, "42")
	if errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatal("store failures must not look like a missing entity")
	}
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpQuery {
		t.Fatalf("expected db.Error with op QUERY, got %v", err)
	}
}
