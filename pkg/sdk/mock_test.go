package mediasearch

import (
	"context"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	healthuc "github.com/kailas-cloud/mediasearch/internal/usecase/health"
	queryuc "github.com/kailas-cloud/mediasearch/internal/usecase/query"
)

// --- queryUseCase mock ---

type mockQueryUC struct {
	byTextFn      func(ctx context.Context, text string, req queryuc.Request) (queryuc.Page, error)
	byFileFn      func(ctx context.Context, content domain.Content, req queryuc.Request) (queryuc.Page, error)
	byReferenceFn func(ctx context.Context, col domcol.Collection, id string, req queryuc.Request) (queryuc.Page, error)
	continueFn    func(ctx context.Context, sessionID string) (queryuc.Page, error)
}

func (m *mockQueryUC) ByText(ctx context.Context, text string, req queryuc.Request) (queryuc.Page, error) {
	return m.byTextFn(ctx, text, req)
}

func (m *mockQueryUC) ByFile(
	ctx context.Context, content domain.Content, req queryuc.Request,
) (queryuc.Page, error) {
	return m.byFileFn(ctx, content, req)
}

func (m *mockQueryUC) ByReference(
	ctx context.Context, col domcol.Collection, id string, req queryuc.Request,
) (queryuc.Page, error) {
	return m.byReferenceFn(ctx, col, id, req)
}

func (m *mockQueryUC) Continue(ctx context.Context, sessionID string) (queryuc.Page, error) {
	return m.continueFn(ctx, sessionID)
}

// --- indexUseCase mock ---

type mockIndexUC struct {
	listFn func(ctx context.Context, dataset string) ([]domcol.Info, error)
}

func (m *mockIndexUC) List(ctx context.Context, dataset string) ([]domcol.Info, error) {
	return m.listFn(ctx, dataset)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(_ context.Context) healthuc.Report {
	return m.report
}

// --- Embedder mock ---

type mockEmbedder struct {
	fn func(ctx context.Context, content Content, m Modality) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, content Content, mod Modality) (EmbeddingResult, error) {
	return m.fn(ctx, content, mod)
}

// --- helpers ---

func testClient(querySvc queryUseCase, indexSvc indexUseCase, healthSvc healthUseCase) *Client {
	return &Client{
		querySvc:  querySvc,
		indexSvc:  indexSvc,
		healthSvc: healthSvc,
	}
}

var msvd5 = domcol.Collection{Dataset: "MSVD", Version: "5sec"}

func testPage() queryuc.Page {
	return queryuc.Page{
		SessionID: "sess-1",
		Hits: []candidate.WithCollection{
			candidate.Candidate{
				ID: "a", Path: "/v/a.mp4", Score: 0.1, Modality: modality.Video,
				Span: candidate.Span{Start: 5, End: 10},
			}.Tag(msvd5),
			candidate.Candidate{ID: "b", Path: "/i/b.jpg", Score: 0.2, Modality: modality.Image}.Tag(msvd5),
		},
	}
}
