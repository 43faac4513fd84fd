package mediasearch

import "github.com/kailas-cloud/mediasearch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidRequest         = domain.ErrInvalidRequest
	ErrNotFound               = domain.ErrNotFound
	ErrNoResults              = domain.ErrNoResults
	ErrEndOfResults           = domain.ErrEndOfResults
	ErrSessionNotFound        = domain.ErrSessionNotFound
	ErrEntityNotFound         = domain.ErrEntityNotFound
	ErrUnsupportedModality    = domain.ErrUnsupportedModality
	ErrUnsupportedContent     = domain.ErrUnsupportedContent
	ErrUpstreamUnavailable    = domain.ErrUpstreamUnavailable
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrRateLimited            = domain.ErrRateLimited
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
)
