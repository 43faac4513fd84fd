package mediasearch

import "context"

// Embedder maps query content into the vector space of the indexes.
// Required for text and file searches; reference searches work without it.
// An embedder that also has HealthCheck(ctx) error is included in Health.
type Embedder interface {
	Embed(ctx context.Context, content Content, m Modality) (EmbeddingResult, error)
}

// Content is a query payload. Exactly one of Text, Path or Data is set.
type Content struct {
	Text     string
	Path     string
	Data     []byte
	MIMEType string
	Filename string
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}
