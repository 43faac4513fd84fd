package mediasearch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/db"
	dbMilvus "github.com/kailas-cloud/mediasearch/internal/db/milvus"
	dbQdrant "github.com/kailas-cloud/mediasearch/internal/db/qdrant"
	"github.com/kailas-cloud/mediasearch/internal/domain"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	collectionrepo "github.com/kailas-cloud/mediasearch/internal/repository/collection"
	"github.com/kailas-cloud/mediasearch/internal/repository/retriever"
	healthuc "github.com/kailas-cloud/mediasearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/mediasearch/internal/usecase/index"
	queryuc "github.com/kailas-cloud/mediasearch/internal/usecase/query"
	searchuc "github.com/kailas-cloud/mediasearch/internal/usecase/search"
)

const (
	driverMilvus = "milvus"
	driverQdrant = "qdrant"

	defaultReadinessTimeout = 10 * time.Second
)

// Internal interfaces, swapped for fakes in tests.
type queryUseCase interface {
	ByText(ctx context.Context, text string, req queryuc.Request) (queryuc.Page, error)
	ByFile(ctx context.Context, content domain.Content, req queryuc.Request) (queryuc.Page, error)
	ByReference(ctx context.Context, col domcol.Collection, id string, req queryuc.Request) (queryuc.Page, error)
	Continue(ctx context.Context, sessionID string) (queryuc.Page, error)
}

type indexUseCase interface {
	List(ctx context.Context, dataset string) ([]domcol.Info, error)
}

// Client is the mediasearch SDK entry point.
type Client struct {
	store     db.VectorStore
	sessions  *searchuc.Registry
	querySvc  queryUseCase
	indexSvc  indexUseCase
	healthSvc healthUseCase
	obs       *observer
}

// New connects to the vector store and loads the configured datasets.
// Datasets missing from the store are skipped; New fails when none is left.
// The provided context bounds the readiness check and dataset discovery.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.address == "" {
		return nil, errors.New("mediasearch: vector store address required (use WithMilvus or WithQdrant)")
	}
	if len(cfg.datasets) == 0 {
		return nil, errors.New("mediasearch: at least one dataset required (use WithDatasets)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	store, err := createStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("mediasearch: vector store not ready: %w", err)
	}

	retrievers, err := loadRetrievers(ctx, store, cfg, obs, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return wireClient(store, retrievers, cfg, obs, logger), nil
}

func createStore(ctx context.Context, cfg *clientConfig, logger *zap.Logger) (db.VectorStore, error) {
	switch cfg.driver {
	case driverMilvus:
		s, err := dbMilvus.NewStore(ctx, dbMilvus.Config{
			Address:     cfg.address,
			Username:    cfg.username,
			Password:    cfg.password,
			APIKey:      cfg.apiKey,
			DBName:      cfg.dbName,
			UseTLS:      cfg.useTLS,
			IndexType:   cfg.indexType,
			SearchParam: cfg.searchParam,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("mediasearch: create milvus store: %w", err)
		}
		return s, nil
	case driverQdrant:
		host, rawPort, err := net.SplitHostPort(cfg.address)
		if err != nil {
			return nil, fmt.Errorf("mediasearch: qdrant address %q: %w", cfg.address, err)
		}
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return nil, fmt.Errorf("mediasearch: qdrant port %q: %w", rawPort, err)
		}
		s, err := dbQdrant.NewStore(dbQdrant.Config{
			Host:       host,
			Port:       port,
			APIKey:     cfg.apiKey,
			UseTLS:     cfg.useTLS,
			Partitions: modality.NewSet(modality.All()...).Strings(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("mediasearch: create qdrant store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("mediasearch: unknown driver %q", cfg.driver)
	}
}

func loadRetrievers(
	ctx context.Context, store db.VectorStore, cfg *clientConfig, obs *observer, logger *zap.Logger,
) (map[domcol.Collection]searchuc.Retriever, error) {
	retrievers := make(map[domcol.Collection]searchuc.Retriever, len(cfg.datasets))
	for _, d := range cfg.datasets {
		col, err := domcol.New(d.Dataset, d.Version)
		if err != nil {
			return nil, fmt.Errorf("mediasearch: dataset %s/%s: %w", d.Dataset, d.Version, err)
		}
		r, err := retriever.Load(ctx, store, col, logger)
		if err != nil {
			obs.warn("dataset not served", "collection", col.Name(), "error", err)
			continue
		}
		retrievers[col] = r.WithLimit(cfg.searchLimit)
	}
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("mediasearch: no configured dataset found in the vector store: %w", ErrNotFound)
	}
	return retrievers, nil
}

func wireClient(
	store db.VectorStore,
	retrievers map[domcol.Collection]searchuc.Retriever,
	cfg *clientConfig,
	obs *observer,
	logger *zap.Logger,
) *Client {
	sessions := searchuc.NewRegistry(cfg.maxSessions, cfg.sessionTTL, logger)
	searchSvc := searchuc.New(retrievers, sessions, logger)

	// Embedder: noop when not configured (reference search works, text fails)
	var domEmb domain.Embedder = noopEmbedder{}
	if cfg.embedder != nil {
		domEmb = &embedderAdapter{inner: cfg.embedder}
	}

	collRepo := collectionrepo.New(store)
	querySvc := queryuc.New(domEmb, searchSvc, collRepo, logger).
		WithPageSize(cfg.pageSize, cfg.maxPageSize)
	indexSvc := indexuc.New(collRepo, searchSvc.Collections(), logger)
	// Embedders with a HealthCheck method join the health report.
	var embCheck healthuc.EmbeddingChecker
	if hc, ok := cfg.embedder.(healthuc.EmbeddingChecker); ok {
		embCheck = hc
	}
	healthSvc := healthuc.New(store, embCheck, logger)

	return &Client{
		store:     store,
		sessions:  sessions,
		querySvc:  querySvc,
		indexSvc:  indexSvc,
		healthSvc: healthSvc,
		obs:       obs,
	}
}

// Close ends every live session and releases the vector store.
func (c *Client) Close() {
	if c.sessions != nil {
		c.sessions.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks vector store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// SearchText opens a session for a text query and returns its first page.
func (c *Client) SearchText(ctx context.Context, text string, req Request) (page Page, err error) {
	start := time.Now()
	defer func() { c.obs.observePage("search_text", start, page, err) }()

	r, err := toRequest(req)
	if err != nil {
		return Page{}, err
	}
	p, err := c.querySvc.ByText(ctx, text, r)
	if err != nil {
		return Page{}, fmt.Errorf("search text: %w", err)
	}
	return fromPage(p), nil
}

// SearchFile opens a session for a media query. content carries either Path or Data;
// its modality is derived from MIMEType.
func (c *Client) SearchFile(ctx context.Context, content Content, req Request) (page Page, err error) {
	start := time.Now()
	defer func() { c.obs.observePage("search_file", start, page, err) }()

	r, err := toRequest(req)
	if err != nil {
		return Page{}, err
	}
	p, err := c.querySvc.ByFile(ctx, domain.Content{
		Path:     content.Path,
		Data:     content.Data,
		MIMEType: content.MIMEType,
		Filename: content.Filename,
	}, r)
	if err != nil {
		return Page{}, fmt.Errorf("search file: %w", err)
	}
	return fromPage(p), nil
}

// SearchReference opens a session ranked by the stored embedding of an indexed item.
func (c *Client) SearchReference(ctx context.Context, col Collection, id string, req Request) (page Page, err error) {
	start := time.Now()
	defer func() { c.obs.observePage("search_reference", start, page, err) }()

	ref, err := domcol.New(col.Dataset, col.Version)
	if err != nil {
		return Page{}, fmt.Errorf("reference collection: %w: %w", err, ErrInvalidRequest)
	}
	r, err := toRequest(req)
	if err != nil {
		return Page{}, err
	}
	p, err := c.querySvc.ByReference(ctx, ref, id, r)
	if err != nil {
		return Page{}, fmt.Errorf("search reference: %w", err)
	}
	return fromPage(p), nil
}

// Next returns the following page of a session.
// ErrEndOfResults marks an exhausted session, which is then forgotten.
func (c *Client) Next(ctx context.Context, sessionID string) (page Page, err error) {
	start := time.Now()
	defer func() { c.obs.observePage("next", start, page, err) }()

	p, err := c.querySvc.Continue(ctx, sessionID)
	if err != nil {
		return Page{}, fmt.Errorf("next: %w", err)
	}
	return fromPage(p), nil
}

// Indexes describes the served collections. A non-empty dataset filters by dataset.
func (c *Client) Indexes(ctx context.Context, dataset string) (infos []IndexInfo, err error) {
	start := time.Now()
	defer func() { c.obs.observe("indexes", start, err) }()

	list, err := c.indexSvc.List(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	infos = make([]IndexInfo, len(list))
	for i, info := range list {
		infos[i] = IndexInfo{
			Collection: Collection{Dataset: info.Collection.Dataset, Version: info.Collection.Version},
			RowCount:   info.RowCount,
			Modalities: info.Modalities,
		}
	}
	return infos, nil
}

func toRequest(req Request) (queryuc.Request, error) {
	out := queryuc.Request{PageSize: req.PageSize}
	if len(req.Modalities) > 0 {
		for _, m := range req.Modalities {
			if !m.IsValid() {
				return queryuc.Request{}, fmt.Errorf("modality %q: %w", m, ErrUnsupportedModality)
			}
		}
		out.Modalities = modality.NewSet(req.Modalities...)
	}
	for _, col := range req.Collections {
		dc, err := domcol.New(col.Dataset, col.Version)
		if err != nil {
			return queryuc.Request{}, fmt.Errorf("collection %s/%s: %w: %w", col.Dataset, col.Version, err, ErrInvalidRequest)
		}
		out.Collections = append(out.Collections, dc)
	}
	return out, nil
}

func fromPage(p queryuc.Page) Page {
	hits := make([]Hit, len(p.Hits))
	for i, h := range p.Hits {
		hits[i] = Hit{
			ID:       h.ID,
			Dataset:  h.Collection.Dataset,
			Version:  h.Collection.Version,
			Path:     h.Path,
			Score:    h.Score,
			Modality: h.Modality,
			Span:     [2]int{h.Span.Start, h.Span.End},
		}
	}
	return Page{SessionID: p.SessionID, Hits: hits}
}

// embedderAdapter wraps the public Embedder to satisfy domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, Content{
		Text:     content.Text,
		Path:     content.Path,
		Data:     content.Data,
		MIMEType: content.MIMEType,
		Filename: content.Filename,
	}, m)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopEmbedder fails every call (used when no embedder is configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ domain.Content, m modality.Modality) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, fmt.Errorf(
		"mediasearch: embedder not configured for %s queries (use WithEmbedder): %w", m, ErrUnsupportedContent,
	)
}
