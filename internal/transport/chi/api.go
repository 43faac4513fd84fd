package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ErrorResponseCode is the machine-readable error code of an ErrorResponse.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest             ErrorResponseCode = "bad_request"
	ErrorResponseCodeUnauthorized           ErrorResponseCode = "unauthorized"
	ErrorResponseCodeValidationFailed       ErrorResponseCode = "validation_failed"
	ErrorResponseCodeUnsupportedModality    ErrorResponseCode = "unsupported_modality"
	ErrorResponseCodeNotFound               ErrorResponseCode = "not_found"
	ErrorResponseCodeNoResults              ErrorResponseCode = "no_results"
	ErrorResponseCodeSessionNotFound        ErrorResponseCode = "session_not_found"
	ErrorResponseCodeEntityNotFound         ErrorResponseCode = "entity_not_found"
	ErrorResponseCodePayloadTooLarge        ErrorResponseCode = "payload_too_large"
	ErrorResponseCodeUnsupportedContent     ErrorResponseCode = "unsupported_content"
	ErrorResponseCodeRateLimited            ErrorResponseCode = "rate_limited"
	ErrorResponseCodeEmbeddingProviderError ErrorResponseCode = "embedding_provider_error"
	ErrorResponseCodeVectorDimMismatch      ErrorResponseCode = "vector_dim_mismatch"
	ErrorResponseCodeUpstreamUnavailable    ErrorResponseCode = "upstream_unavailable"
	ErrorResponseCodeTimeout                ErrorResponseCode = "timeout"
	ErrorResponseCodeInternalError          ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// CollectionRef names one dataset version.
type CollectionRef struct {
	Dataset string `json:"dataset"`
	Version string `json:"version"`
}

// SearchConfig scopes a search. Omitted fields fall back to server defaults.
type SearchConfig struct {
	NCandidates *int            `json:"n_candidates,omitempty"`
	Modalities  []string        `json:"modalities,omitempty"`
	Collections []CollectionRef `json:"collections,omitempty"`
}

// SearchByTextRequest is the body of POST /api/v1/search/by_text.
type SearchByTextRequest struct {
	Text   string        `json:"text"`
	Config *SearchConfig `json:"config,omitempty"`
}

// SearchByReferenceRequest is the body of POST /api/v1/search/by_reference.
type SearchByReferenceRequest struct {
	ID      string        `json:"id"`
	Dataset string        `json:"dataset"`
	Version string        `json:"version"`
	Config  *SearchConfig `json:"config,omitempty"`
}

// ContinueSearchRequest is the body of POST /api/v1/search/continue.
type ContinueSearchRequest struct {
	SessionID string `json:"session_id"`
}

// SearchResult is one hit.
type SearchResult struct {
	ID       string  `json:"id"`
	Dataset  string  `json:"dataset"`
	Version  string  `json:"version"`
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	Modality string  `json:"modality"`
	Span     [2]int  `json:"span"`
}

// SearchResponse is one page of a search session.
type SearchResponse struct {
	SessionID string         `json:"session_id"`
	Hits      int            `json:"hits"`
	Data      []SearchResult `json:"data"`
}

// IndexInfo describes a searchable collection.
type IndexInfo struct {
	Dataset    string   `json:"dataset"`
	Version    string   `json:"version"`
	RowCount   int64    `json:"row_count"`
	Modalities []string `json:"modalities"`
}

// IndexListResponse is the body of GET /api/v1/indexes.
type IndexListResponse struct {
	Items []IndexInfo `json:"items"`
}

// ListIndexesParams are the query parameters of GET /api/v1/indexes.
type ListIndexesParams struct {
	Dataset *string `form:"dataset,omitempty" json:"dataset,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServerInterface lists every HTTP operation.
type ServerInterface interface {
	// (POST /api/v1/search/by_text)
	SearchByText(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/search/by_file)
	SearchByFile(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/search/by_reference)
	SearchByReference(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/search/continue)
	ContinueSearch(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/indexes)
	ListIndexes(w http.ResponseWriter, r *http.Request, params ListIndexesParams)
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	Metrics(w http.ResponseWriter, r *http.Request)
}

// ChiServerOptions configures route registration.
type ChiServerOptions struct {
	BaseRouter chi.Router
	// ErrorHandlerFunc reports malformed parameters. Defaults to a 400 ErrorResponse.
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions registers every route of si on the base router.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	onError := options.ErrorHandlerFunc
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search/by_text", si.SearchByText)
		r.Post("/search/by_file", si.SearchByFile)
		r.Post("/search/by_reference", si.SearchByReference)
		r.Post("/search/continue", si.ContinueSearch)
		r.Get("/indexes", func(w http.ResponseWriter, r *http.Request) {
			var params ListIndexesParams
			err := runtime.BindQueryParameter("form", true, false, "dataset", r.URL.Query(), &params.Dataset)
			if err != nil {
				onError(w, r, err)
				return
			}
			si.ListIndexes(w, r, params)
		})
	})
	r.Get("/health", si.HealthCheck)
	r.Get("/metrics", si.Metrics)

	return r
}
