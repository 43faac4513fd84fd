// Package languagebind talks to a LanguageBind inference server over HTTP.
//
// Text and file paths are sent as JSON to POST {base}/embed. Raw uploads go
// to the same endpoint as multipart/form-data with "modality" and "file"
// fields. Both return {"embedding": [...]}. GET {base}/health reports liveness.
package languagebind

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

const (
	provider = "languagebind"
	model    = "LanguageBind"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4 << 10
)

// Config holds the inference server settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Embedder embeds text, image, video and audio queries into the LanguageBind space.
type Embedder struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewEmbedder creates a LanguageBind client.
func NewEmbedder(cfg *Config) *Embedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Embedder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
	}
}

type embedRequest struct {
	Modality string `json:"modality"`
	Text     string `json:"text,omitempty"`
	Path     string `json:"path,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(
	ctx context.Context, content domain.Content, m modality.Modality,
) (domain.EmbeddingResult, error) {
	if m == modality.Hybrid || !m.IsValid() {
		return domain.EmbeddingResult{}, fmt.Errorf("cannot embed a %q query: %w", m, domain.ErrUnsupportedContent)
	}
	kind, err := content.Kind()
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if (kind == domain.ContentText) != (m == modality.Text) {
		return domain.EmbeddingResult{}, fmt.Errorf("%s content with %s modality: %w",
			kind, m, domain.ErrUnsupportedContent)
	}

	var req *http.Request
	switch kind {
	case domain.ContentData:
		req, err = e.multipartRequest(ctx, content, m)
	default:
		req, err = e.jsonRequest(ctx, embedRequest{Modality: string(m), Text: content.Text, Path: content.Path})
	}
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	vec, err := e.do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, string(m), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, "api_error").Inc()
		return domain.EmbeddingResult{}, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, string(m), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, model, string(m)).Observe(duration.Seconds())

	return domain.EmbeddingResult{Embedding: vec}, nil
}

func (e *Embedder) jsonRequest(ctx context.Context, body embedRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (e *Embedder) multipartRequest(
	ctx context.Context, content domain.Content, m modality.Modality,
) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("modality", string(m)); err != nil {
		return nil, fmt.Errorf("write modality field: %w", err)
	}

	filename := content.Filename
	if filename == "" {
		filename = "query"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if content.MIMEType != "" {
		h.Set("Content-Type", content.MIMEType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(content.Data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", &buf)
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (e *Embedder) do(req *http.Request) ([]float32, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("embed request: %w", ctxErr)
		}
		return nil, fmt.Errorf("embed request: %v: %w", err, domain.ErrEmbeddingProviderError)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("embedding server rejected content: %s: %w",
			readDetail(resp.Body), domain.ErrUnsupportedContent)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("embedding server busy: %w", domain.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embedding server error %d: %s: %w",
			resp.StatusCode, readDetail(resp.Body), domain.ErrEmbeddingProviderError)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding: %v: %w", err, domain.ErrEmbeddingProviderError)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}
	return out.Embedding, nil
}

// readDetail returns the "detail" field of a JSON error body, or the raw body.
func readDetail(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(body))
}

// HealthCheck calls the server's health endpoint.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("embedding server unhealthy: " + resp.Status)
	}
	return nil
}
