package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Page sizes used when none are configured.
const (
	DefaultPageSize = 32
	MaxPageSize     = 256
)

// Request scopes a search. Zero values mean every served collection,
// every modality and the default page size.
type Request struct {
	Collections []domcol.Collection
	Modalities  modality.Set
	PageSize    int
}

// Page is one page of a search session.
type Page struct {
	SessionID string
	Hits      []candidate.WithCollection
}

// Service embeds queries and runs them through the searcher.
type Service struct {
	embedder        Embedder
	searcher        Searcher
	entities        EntityReader
	defaultPageSize int
	maxPageSize     int
	logger          *zap.Logger
}

// New creates a query service.
func New(embedder Embedder, searcher Searcher, entities EntityReader, logger *zap.Logger) *Service {
	return &Service{
		embedder:        embedder,
		searcher:        searcher,
		entities:        entities,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		logger:          logger,
	}
}

// WithPageSize overrides the default and maximum page sizes.
func (s *Service) WithPageSize(def, maxSize int) *Service {
	if def > 0 {
		s.defaultPageSize = def
	}
	if maxSize > 0 {
		s.maxPageSize = maxSize
	}
	return s
}

// ByText searches with a text query.
func (s *Service) ByText(ctx context.Context, text string, req Request) (Page, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Page{}, fmt.Errorf("text is required: %w", domain.ErrInvalidRequest)
	}
	return s.embedAndSearch(ctx, domain.TextContent(text), modality.Text, req)
}

// ByFile searches with uploaded media. The modality follows the MIME type.
func (s *Service) ByFile(ctx context.Context, content domain.Content, req Request) (Page, error) {
	if len(content.Data) == 0 && content.Path == "" {
		return Page{}, fmt.Errorf("file is empty: %w", domain.ErrInvalidRequest)
	}
	m, ok := modality.FromMIME(content.MIMEType)
	if !ok {
		return Page{}, fmt.Errorf("mime type %q: %w", content.MIMEType, domain.ErrUnsupportedContent)
	}
	return s.embedAndSearch(ctx, content, m, req)
}

// ByReference searches with the stored embedding of an indexed item.
func (s *Service) ByReference(ctx context.Context, col domcol.Collection, id string, req Request) (Page, error) {
	if id == "" {
		return Page{}, fmt.Errorf("id is required: %w", domain.ErrInvalidRequest)
	}
	embedding, err := s.entities.Embedding(ctx, col, id)
	if err != nil {
		return Page{}, fmt.Errorf("reference: %w", err)
	}
	return s.search(ctx, embedding, req)
}

// Continue returns the next page of a session.
func (s *Service) Continue(ctx context.Context, sessionID string) (Page, error) {
	if sessionID == "" {
		return Page{}, fmt.Errorf("session_id is required: %w", domain.ErrInvalidRequest)
	}
	hits, err := s.searcher.Next(ctx, sessionID)
	if err != nil {
		return Page{}, fmt.Errorf("continue: %w", err)
	}
	return Page{SessionID: sessionID, Hits: hits}, nil
}

func (s *Service) embedAndSearch(
	ctx context.Context, content domain.Content, m modality.Modality, req Request,
) (Page, error) {
	if err := s.normalize(&req); err != nil {
		return Page{}, err
	}
	result, err := s.embedder.Embed(ctx, content, m)
	if err != nil {
		return Page{}, fmt.Errorf("embed query: %w", err)
	}
	s.logger.Debug("Query embedded",
		zap.String("modality", string(m)),
		zap.Int("dims", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens))
	return s.search(ctx, result.Embedding, req)
}

func (s *Service) search(ctx context.Context, embedding []float32, req Request) (Page, error) {
	if err := s.normalize(&req); err != nil {
		return Page{}, err
	}

	hits, id, err := s.searcher.Search(ctx, embedding, req.Collections, req.Modalities, req.PageSize)
	if err != nil {
		return Page{}, fmt.Errorf("search: %w", err)
	}

	return Page{SessionID: id, Hits: hits}, nil
}

// normalize fills defaults in place. Safe to call twice.
func (s *Service) normalize(req *Request) error {
	switch {
	case req.PageSize == 0:
		req.PageSize = s.defaultPageSize
	case req.PageSize < 0 || req.PageSize > s.maxPageSize:
		return fmt.Errorf("n_candidates must be in [1, %d]: %w", s.maxPageSize, domain.ErrInvalidRequest)
	}
	if len(req.Modalities) == 0 {
		req.Modalities = modality.NewSet(modality.All()...)
	}
	if len(req.Collections) == 0 {
		req.Collections = s.searcher.Collections()
	}
	return nil
}
