// Package random provides a development embedder that needs no model server.
package random

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Embedder returns unit vectors seeded by the query, so repeated queries page consistently.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a random embedder of the given dimensionality.
func NewEmbedder(dimensions int) *Embedder {
	return &Embedder{dimensions: dimensions}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(
	_ context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	kind, err := content.Kind()
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if e.dimensions <= 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("dimensions must be positive: %w", domain.ErrEmbeddingProviderError)
	}

	h := sha256.New()
	h.Write([]byte(m))
	h.Write([]byte(kind))
	h.Write([]byte(content.Text))
	h.Write([]byte(content.Path))
	h.Write(content.Data)
	sum := h.Sum(nil)

	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16]))) //nolint:gosec // not security sensitive
	vec := make([]float32, e.dimensions)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}
