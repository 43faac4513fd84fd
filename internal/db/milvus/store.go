package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/db"
)

// Field names of an indexed collection.
const (
	fieldID        = "id"
	fieldPath      = "path"
	fieldStart     = "start"
	fieldEnd       = "end"
	fieldModality  = "modality"
	fieldEmbedding = "embedding"

	defaultPartition = "_default"
	// maxWindow is Milvus' limit on offset+limit of a single search.
	maxWindow = 16384
)

var outputFields = []string{fieldID, fieldPath, fieldStart, fieldEnd, fieldModality}

var _ db.VectorStore = (*Store)(nil)

// Config holds connection and search parameters for a Milvus server.
type Config struct {
	Address  string
	Username string
	Password string
	APIKey   string
	DBName   string
	UseTLS   bool
	// IndexType selects the search parameter: flat, ivf_flat or hnsw.
	IndexType string
	// SearchParam is ef for hnsw and nprobe for ivf_flat.
	SearchParam int
}

// Store implements db.VectorStore on top of Milvus collections named "<dataset>__<version>"
// with one partition per modality.
type Store struct {
	client client.Client
	param  entity.SearchParam
	logger *zap.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

// NewStore dials Milvus.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	param, err := searchParam(cfg.IndexType, cfg.SearchParam)
	if err != nil {
		return nil, err
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Address,
		Username:      cfg.Username,
		Password:      cfg.Password,
		APIKey:        cfg.APIKey,
		DBName:        cfg.DBName,
		EnableTLSAuth: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	return newStore(c, param, logger), nil
}

func newStore(c client.Client, param entity.SearchParam, logger *zap.Logger) *Store {
	return &Store{
		client: c,
		param:  param,
		logger: logger,
		loaded: make(map[string]struct{}),
	}
}

func searchParam(indexType string, value int) (entity.SearchParam, error) {
	var (
		sp  entity.SearchParam
		err error
	)
	switch strings.ToLower(indexType) {
	case "", "flat":
		sp, err = entity.NewIndexFlatSearchParam()
	case "ivf_flat":
		if value <= 0 {
			value = 16
		}
		sp, err = entity.NewIndexIvfFlatSearchParam(value)
	case "hnsw":
		if value <= 0 {
			value = 64
		}
		sp, err = entity.NewIndexHNSWSearchParam(value)
	default:
		return nil, fmt.Errorf("unsupported milvus index type %q", indexType)
	}
	if err != nil {
		return nil, fmt.Errorf("build search param: %w", err)
	}
	return sp, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.GetVersion(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Failed to close milvus client", zap.Error(err))
	}
}

// WaitForReady polls Ping until Milvus responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for milvus: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// ListCollections returns the names of all collections in the database.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, &db.Error{Op: db.OpList, Err: err}
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

// DescribeCollection returns the modality partitions and row count of a collection.
func (s *Store) DescribeCollection(ctx context.Context, name string) (*db.CollectionInfo, error) {
	exists, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return nil, &db.Error{Op: db.OpDescribe, Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, db.ErrCollectionNotFound)
	}

	parts, err := s.client.ShowPartitions(ctx, name)
	if err != nil {
		return nil, &db.Error{Op: db.OpDescribe, Err: err}
	}
	partitions := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Name != defaultPartition {
			partitions = append(partitions, p.Name)
		}
	}

	stats, err := s.client.GetCollectionStatistics(ctx, name)
	if err != nil {
		return nil, &db.Error{Op: db.OpDescribe, Err: err}
	}
	var rows int64
	if raw, ok := stats["row_count"]; ok {
		rows, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &db.Error{Op: db.OpDescribe, Err: fmt.Errorf("parse row_count %q: %w", raw, err)}
		}
	}

	return &db.CollectionInfo{Name: name, Partitions: partitions, RowCount: rows}, nil
}

// GetEntity reads a single indexed item including its embedding.
func (s *Store) GetEntity(ctx context.Context, collection, id string) (*db.Entity, error) {
	pk, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id %q: %w", id, db.ErrEntityNotFound)
	}
	if err := s.ensureLoaded(ctx, collection); err != nil {
		return nil, err
	}

	fields := append(append([]string{}, outputFields...), fieldEmbedding)
	cols, err := s.client.Query(ctx, collection, nil, fmt.Sprintf("%s in [%d]", fieldID, pk), fields)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return entityFromColumns(cols)
}

// OpenCursor starts an offset-paged scan of the collection.
func (s *Store) OpenCursor(ctx context.Context, q *db.CursorQuery) (db.Cursor, error) {
	if q.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", q.BatchSize)
	}
	if err := s.ensureLoaded(ctx, q.Collection); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > maxWindow {
		limit = maxWindow
	}
	return &cursor{
		store:      s,
		collection: q.Collection,
		vector:     entity.FloatVector(q.Vector),
		partitions: q.Partitions,
		batchSize:  q.BatchSize,
		limit:      limit,
	}, nil
}

// ensureLoaded loads a collection into memory once per process.
func (s *Store) ensureLoaded(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.loaded[name]
	s.mu.Unlock()
	if ok {
		return nil
	}

	if err := s.client.LoadCollection(ctx, name, false); err != nil {
		return &db.Error{Op: db.OpLoad, Err: err}
	}

	s.mu.Lock()
	s.loaded[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) search(
	ctx context.Context, c *cursor, topK int,
) ([]db.RawHit, error) {
	results, err := s.client.Search(
		ctx,
		c.collection,
		c.partitions,
		"",
		outputFields,
		[]entity.Vector{c.vector},
		fieldEmbedding,
		entity.COSINE,
		topK,
		s.param,
		client.WithOffset(int64(c.offset)),
	)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(results) == 0 {
		return nil, nil
	}
	if results[0].Err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: results[0].Err}
	}
	return hitsFromResult(results[0])
}
