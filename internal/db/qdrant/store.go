package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/db"
)

// Payload keys of an indexed point.
const (
	keyPath     = "path"
	keyModality = "modality"
	keyStart    = "start"
	keyEnd      = "end"
)

var _ db.VectorStore = (*Store)(nil)

// pointsAPI is the subset of *qdrant.Client the store uses.
type pointsAPI interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds Qdrant connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Partitions lists the modality values probed by DescribeCollection.
	Partitions []string
}

// Store implements db.VectorStore on Qdrant. Modalities are a keyword payload field
// instead of physical partitions.
type Store struct {
	client     pointsAPI
	partitions []string
	logger     *zap.Logger
}

// NewStore creates a Qdrant gRPC client.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return newStore(c, cfg.Partitions, logger), nil
}

func newStore(c pointsAPI, partitions []string, logger *zap.Logger) *Store {
	return &Store{client: c, partitions: partitions, logger: logger}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Failed to close qdrant client", zap.Error(err))
	}
}

// WaitForReady polls Ping until Qdrant responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for qdrant: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// ListCollections returns all collection names.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, &db.Error{Op: db.OpList, Err: err}
	}
	return names, nil
}

// DescribeCollection reports which modalities have points and the total point count.
func (s *Store) DescribeCollection(ctx context.Context, name string) (*db.CollectionInfo, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, &db.Error{Op: db.OpDescribe, Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, db.ErrCollectionNotFound)
	}

	total, err := s.count(ctx, name, nil)
	if err != nil {
		return nil, err
	}

	var partitions []string
	for _, p := range s.partitions {
		n, err := s.count(ctx, name, modalityFilter([]string{p}))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			partitions = append(partitions, p)
		}
	}
	return &db.CollectionInfo{Name: name, Partitions: partitions, RowCount: int64(total)}, nil //nolint:gosec // point counts fit int64
}

func (s *Store) count(ctx context.Context, name string, filter *qdrant.Filter) (uint64, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, &db.Error{Op: db.OpDescribe, Err: err}
	}
	return n, nil
}

// GetEntity reads one point with its vector.
func (s *Store) GetEntity(ctx context.Context, collection, id string) (*db.Entity, error) {
	pid, err := pointID(id)
	if err != nil {
		return nil, err
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{pid},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, db.ErrEntityNotFound)
	}

	p := points[0]
	e := &db.Entity{ID: idString(p.GetId())}
	e.Path, e.Modality, e.Start, e.End = decodePayload(p.GetPayload())
	e.Embedding = p.GetVectors().GetVector().GetData()
	return e, nil
}

// OpenCursor starts an offset-paged scan restricted to the given modalities.
func (s *Store) OpenCursor(_ context.Context, q *db.CursorQuery) (db.Cursor, error) {
	if q.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", q.BatchSize)
	}
	return &cursor{
		store:      s,
		collection: q.Collection,
		vector:     q.Vector,
		filter:     modalityFilter(q.Partitions),
		batchSize:  q.BatchSize,
		limit:      q.Limit,
	}, nil
}

func modalityFilter(modalities []string) *qdrant.Filter {
	if len(modalities) == 0 {
		return nil
	}
	keywords := make([]string, len(modalities))
	copy(keywords, modalities)
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: keyModality,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: keywords},
						},
					},
				},
			},
		}},
	}
}

// pointID accepts the two id forms Qdrant supports: unsigned integers and UUIDs.
func pointID(id string) (*qdrant.PointId, error) {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n), nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("id %q is neither numeric nor uuid: %w", id, db.ErrEntityNotFound)
	}
	return qdrant.NewID(id), nil
}

func idString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func decodePayload(payload map[string]*qdrant.Value) (path, modality string, start, end float64) {
	for k, v := range payload {
		switch k {
		case keyPath:
			path = v.GetStringValue()
		case keyModality:
			modality = v.GetStringValue()
		case keyStart:
			start = number(v)
		case keyEnd:
			end = number(v)
		}
	}
	return path, modality, start, end
}

func number(v *qdrant.Value) float64 {
	if _, ok := v.GetKind().(*qdrant.Value_IntegerValue); ok {
		return float64(v.GetIntegerValue())
	}
	return v.GetDoubleValue()
}
