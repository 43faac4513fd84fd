package chi

import (
	"context"
	"net/http"
	"testing"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	healthuc "github.com/kailas-cloud/mediasearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/mediasearch/internal/usecase/index"
	queryuc "github.com/kailas-cloud/mediasearch/internal/usecase/query"
)

var (
	msvd = domcol.Collection{Dataset: "MSVD", Version: "5sec"}
	coco = domcol.Collection{Dataset: "COCO", Version: "val2017"}
)

type fakeEmbedder struct {
	err       error
	modality  modality.Modality
	content   domain.Content
	callCount int
}

func (f *fakeEmbedder) Embed(
	_ context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	f.callCount++
	f.content = content
	f.modality = m
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0}}, nil
}

type fakeSearcher struct {
	hits        []candidate.WithCollection
	searchErr   error
	nextErr     error
	collections []domcol.Collection
	modalities  modality.Set
	pageSize    int
}

func (f *fakeSearcher) Search(
	_ context.Context, _ []float32, collections []domcol.Collection, modalities modality.Set, pageSize int,
) ([]candidate.WithCollection, string, error) {
	f.collections = collections
	f.modalities = modalities
	f.pageSize = pageSize
	if f.searchErr != nil {
		return nil, "", f.searchErr
	}
	return f.hits, "3f2b8c1e-0000-4000-8000-000000000001", nil
}

func (f *fakeSearcher) Next(_ context.Context, _ string) ([]candidate.WithCollection, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	return f.hits, nil
}

func (f *fakeSearcher) Collections() []domcol.Collection {
	return []domcol.Collection{coco, msvd}
}

type fakeEntities struct {
	err error
}

func (f *fakeEntities) Embedding(_ context.Context, _ domcol.Collection, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0, 1}, nil
}

type fakeIndexRepo struct {
	err error
}

func (f *fakeIndexRepo) List(_ context.Context) ([]domcol.Collection, error) {
	return []domcol.Collection{coco, msvd}, f.err
}

func (f *fakeIndexRepo) Describe(_ context.Context, col domcol.Collection) (domcol.Info, error) {
	return domcol.Info{
		Collection: col,
		RowCount:   100,
		Modalities: []modality.Modality{modality.Hybrid, modality.Video, modality.Text},
	}, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

type testEnv struct {
	handler  http.Handler
	server   *Server
	embedder *fakeEmbedder
	searcher *fakeSearcher
	entities *fakeEntities
	indexes  *fakeIndexRepo
	store    *fakePinger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		embedder: &fakeEmbedder{},
		searcher: &fakeSearcher{
			hits: []candidate.WithCollection{
				candidate.Candidate{
					ID: "7", Path: "clips/7.mp4", Score: 0.1, Modality: modality.Video,
					Span: candidate.Span{Start: 5, End: 10},
				}.Tag(msvd),
				candidate.Candidate{ID: "3", Path: "img/3.jpg", Score: 0.4, Modality: modality.Image}.Tag(coco),
			},
		},
		entities: &fakeEntities{},
		indexes:  &fakeIndexRepo{},
		store:    &fakePinger{},
	}

	logger := zap.NewNop()
	query := queryuc.New(env.embedder, env.searcher, env.entities, logger)
	indexes := indexuc.New(env.indexes, []domcol.Collection{msvd, coco}, logger)
	health := healthuc.New(env.store, nil, logger)

	env.server = NewServer(query, indexes, health, logger)
	env.handler = HandlerWithOptions(env.server, ChiServerOptions{BaseRouter: gochi.NewRouter()})
	return env
}
