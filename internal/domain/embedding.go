package domain

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// Content is a query payload. Exactly one of Text, Path or Data is set.
type Content struct {
	Text     string
	Path     string
	Data     []byte
	MIMEType string
	Filename string
}

// ContentKind names which field of Content carries the payload.
type ContentKind string

// Content kinds.
const (
	ContentText ContentKind = "text"
	ContentPath ContentKind = "path"
	ContentData ContentKind = "data"
)

// TextContent wraps a text query.
func TextContent(text string) Content { return Content{Text: text} }

// Kind validates the content and reports its kind.
func (c Content) Kind() (ContentKind, error) {
	var kinds []ContentKind
	if c.Text != "" {
		kinds = append(kinds, ContentText)
	}
	if c.Path != "" {
		kinds = append(kinds, ContentPath)
	}
	if len(c.Data) > 0 {
		kinds = append(kinds, ContentData)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("content must carry exactly one of text, path or data: %w", ErrUnsupportedContent)
	}
	return kinds[0], nil
}

// Embedder maps query content of a given modality into the shared vector space.
type Embedder interface {
	Embed(ctx context.Context, content Content, m modality.Modality) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// InstructionEmbedder is a domain decorator that prepends instruction text to text queries.
// Media content passes through untouched.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction to text content and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, content Content, m modality.Modality) (EmbeddingResult, error) {
	if content.Text != "" {
		content.Text = e.instruction + content.Text
	}
	result, err := e.inner.Embed(ctx, content, m)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
