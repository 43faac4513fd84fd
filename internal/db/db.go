package db

import (
	"context"
	"time"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// CursorQuery opens a lazy nearest-neighbour scan over one collection.
type CursorQuery struct {
	Collection string
	Vector     []float32
	// Partitions restricts the scan to these partitions (one per modality).
	Partitions []string
	BatchSize  int
	// Limit caps the total number of hits the cursor ever returns.
	Limit int
}

// RawHit is one search hit as reported by the vector store.
type RawHit struct {
	ID   string
	Path string
	// Similarity is the raw cosine similarity; higher is closer.
	Similarity float32
	Modality   string
	Start      float64
	End        float64
}

// Cursor streams hits in batches of increasing distance.
type Cursor interface {
	// NextBatch returns the next non-empty batch or ErrEndOfData.
	NextBatch(ctx context.Context) ([]RawHit, error)
	Close() error
}

// Entity is a single indexed item with its stored embedding.
type Entity struct {
	ID        string
	Path      string
	Modality  string
	Start     float64
	End       float64
	Embedding []float32
}

// CollectionInfo describes a stored collection.
type CollectionInfo struct {
	Name       string
	Partitions []string
	RowCount   int64
}

// VectorSearcher opens search cursors.
type VectorSearcher interface {
	OpenCursor(ctx context.Context, q *CursorQuery) (Cursor, error)
}

// CollectionReader reads collection metadata and stored entities.
type CollectionReader interface {
	ListCollections(ctx context.Context) ([]string, error)
	DescribeCollection(ctx context.Context, name string) (*CollectionInfo, error)
	GetEntity(ctx context.Context, collection, id string) (*Entity, error)
}

// VectorStore is the facade implemented by every vector backend.
type VectorStore interface {
	Pinger
	VectorSearcher
	CollectionReader
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}
