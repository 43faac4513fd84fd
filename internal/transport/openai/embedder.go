package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// Embedder is a text-only embedding provider using an OpenAI-compatible API.
// It only makes sense against a model trained into the same space as the indexes.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   cfg.Provider,
		logger:     cfg.Logger,
	}
}

// Embed implements domain.Embedder for text queries.
// Media content fails with domain.ErrUnsupportedContent.
func (e *Embedder) Embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	kind, err := content.Kind()
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if kind != domain.ContentText || m != modality.Text {
		return domain.EmbeddingResult{}, fmt.Errorf("%s accepts text only, got %s/%s: %w",
			e.provider, kind, m, domain.ErrUnsupportedContent)
	}

	req := openai.EmbeddingRequest{
		Input:          []string{content.Text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	model := string(e.model)
	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, string(m), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "api_error").Inc()
		return domain.EmbeddingResult{}, parseAPIError(err)
	}

	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, string(m), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "empty_response").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, string(m), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model, string(m)).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "total").Add(float64(totalTokens))
	}

	e.logger.Debug("OpenAI embedding received",
		zap.String("model", model),
		zap.Int("dimensions", len(resp.Data[0].Embedding)),
		zap.Duration("duration", duration))

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// Throttling maps to domain.ErrRateLimited; everything else to domain.ErrEmbeddingProviderError.
func parseAPIError(err error) error {
	var (
		reqErr *openai.RequestError
		apiErr *openai.APIError
		status int
		detail string
	)
	switch {
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		detail = extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	default:
		return fmt.Errorf("embedding request failed: %w", domain.ErrEmbeddingProviderError)
	}

	wrap := domain.ErrEmbeddingProviderError
	if status == http.StatusTooManyRequests {
		wrap = domain.ErrRateLimited
	}
	return fmt.Errorf("embedding API error %d: %s: %w", status, detail, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
