package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/mediasearch/internal/db"
)

// cursor pages through query results with growing offsets. Not safe for concurrent use.
type cursor struct {
	store      *Store
	collection string
	vector     []float32
	filter     *qdrant.Filter
	batchSize  int
	limit      int

	offset int
	done   bool
}

// NextBatch returns the next page of hits.
func (c *cursor) NextBatch(ctx context.Context) ([]db.RawHit, error) {
	if c.done {
		return nil, db.ErrEndOfData
	}
	topK := c.batchSize
	if c.limit > 0 {
		topK = min(topK, c.limit-c.offset)
	}
	if topK <= 0 {
		c.done = true
		return nil, db.ErrEndOfData
	}

	limit := uint64(topK)      //nolint:gosec // positive
	offset := uint64(c.offset) //nolint:gosec // non-negative
	points, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(c.vector...),
		Limit:          &limit,
		Offset:         &offset,
		Filter:         c.filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(points) == 0 {
		c.done = true
		return nil, db.ErrEndOfData
	}

	hits := make([]db.RawHit, len(points))
	for i, p := range points {
		hits[i] = db.RawHit{ID: idString(p.GetId()), Similarity: p.GetScore()}
		hits[i].Path, hits[i].Modality, hits[i].Start, hits[i].End = decodePayload(p.GetPayload())
	}

	c.offset += len(hits)
	if len(hits) < topK {
		c.done = true
	}
	return hits, nil
}

// Close ends the scan.
func (c *cursor) Close() error {
	c.done = true
	return nil
}
