package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// InstrumentedEmbedder wraps Embedder with a dimension guard and logging.
// Transport metrics (requests, duration, tokens) are recorded by each provider.
type InstrumentedEmbedder struct {
	inner      domain.Embedder
	provider   string
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. dimensions = 0 disables the guard.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string, dimensions int, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:      inner,
		provider:   provider,
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed delegates to the inner embedder and checks the vector size.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	kind, err := content.Kind()
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()

	result, err := p.inner.Embed(ctx, content, m)

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.String("modality", string(m)),
			zap.String("content", string(kind)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	if p.dimensions > 0 && len(result.Embedding) != p.dimensions {
		return domain.EmbeddingResult{}, fmt.Errorf("%s returned %d dimensions, expected %d: %w",
			p.provider, len(result.Embedding), p.dimensions, domain.ErrVectorDimMismatch)
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.String("modality", string(m)),
		zap.String("content", string(kind)),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
