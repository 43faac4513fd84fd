package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kailas-cloud/mediasearch/internal/db"
)

// cursor pages through a top-k expansion with growing offsets.
// It is not safe for concurrent use.
type cursor struct {
	store      *Store
	collection string
	vector     entity.FloatVector
	partitions []string
	batchSize  int
	limit      int

	offset int
	done   bool
}

// NextBatch returns up to batchSize hits following the previous batch.
func (c *cursor) NextBatch(ctx context.Context) ([]db.RawHit, error) {
	if c.done {
		return nil, db.ErrEndOfData
	}
	topK := min(c.batchSize, c.limit-c.offset)
	if topK <= 0 {
		c.done = true
		return nil, db.ErrEndOfData
	}

	hits, err := c.store.search(ctx, c, topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		c.done = true
		return nil, db.ErrEndOfData
	}

	c.offset += len(hits)
	if len(hits) < topK {
		c.done = true
	}
	return hits, nil
}

// Close ends the scan. Offset paging holds no server-side state.
func (c *cursor) Close() error {
	c.done = true
	return nil
}

func hitsFromResult(res client.SearchResult) ([]db.RawHit, error) {
	n := res.ResultCount
	if len(res.Scores) < n {
		return nil, fmt.Errorf("search result has %d scores for %d hits", len(res.Scores), n)
	}
	ids, err := idStrings(res.IDs, n)
	if err != nil {
		return nil, err
	}

	hits := make([]db.RawHit, n)
	for i := range hits {
		hits[i].ID = ids[i]
		hits[i].Similarity = res.Scores[i]
	}
	for _, col := range res.Fields {
		if err := applyColumn(col, n, func(i int, name string, v any) {
			switch name {
			case fieldPath:
				hits[i].Path, _ = v.(string)
			case fieldModality:
				hits[i].Modality, _ = v.(string)
			case fieldStart:
				hits[i].Start, _ = v.(float64)
			case fieldEnd:
				hits[i].End, _ = v.(float64)
			}
		}); err != nil {
			return nil, err
		}
	}
	return hits, nil
}

func entityFromColumns(cols []entity.Column) (*db.Entity, error) {
	var (
		e     db.Entity
		found bool
	)
	for _, col := range cols {
		if col == nil || col.Len() == 0 {
			continue
		}
		found = true
		switch col.Name() {
		case fieldID:
			ids, err := idStrings(col, 1)
			if err != nil {
				return nil, err
			}
			e.ID = ids[0]
		case fieldEmbedding:
			vc, ok := col.(*entity.ColumnFloatVector)
			if !ok {
				return nil, fmt.Errorf("embedding column has type %T", col)
			}
			e.Embedding = vc.Data()[0]
		default:
			if err := applyColumn(col, 1, func(_ int, name string, v any) {
				switch name {
				case fieldPath:
					e.Path, _ = v.(string)
				case fieldModality:
					e.Modality, _ = v.(string)
				case fieldStart:
					e.Start, _ = v.(float64)
				case fieldEnd:
					e.End, _ = v.(float64)
				}
			}); err != nil {
				return nil, err
			}
		}
	}
	if !found {
		return nil, db.ErrEntityNotFound
	}
	return &e, nil
}

// applyColumn calls fn for the first n rows of a scalar column, normalizing numbers to float64.
func applyColumn(col entity.Column, n int, fn func(i int, name string, v any)) error {
	if col.Len() < n {
		return fmt.Errorf("column %s has %d rows, want %d", col.Name(), col.Len(), n)
	}
	name := col.Name()
	switch c := col.(type) {
	case *entity.ColumnVarChar:
		for i, v := range c.Data()[:n] {
			fn(i, name, v)
		}
	case *entity.ColumnFloat:
		for i, v := range c.Data()[:n] {
			fn(i, name, float64(v))
		}
	case *entity.ColumnDouble:
		for i, v := range c.Data()[:n] {
			fn(i, name, v)
		}
	case *entity.ColumnInt64:
		for i, v := range c.Data()[:n] {
			fn(i, name, float64(v))
		}
	case *entity.ColumnInt32:
		for i, v := range c.Data()[:n] {
			fn(i, name, float64(v))
		}
	}
	return nil
}

func idStrings(col entity.Column, n int) ([]string, error) {
	if col == nil || col.Len() < n {
		return nil, fmt.Errorf("id column missing or short")
	}
	out := make([]string, n)
	switch c := col.(type) {
	case *entity.ColumnInt64:
		for i, v := range c.Data()[:n] {
			out[i] = strconv.FormatInt(v, 10)
		}
	case *entity.ColumnVarChar:
		copy(out, c.Data()[:n])
	default:
		return nil, fmt.Errorf("unsupported id column type %T", col)
	}
	return out, nil
}
