package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	domcol "github.com/kailas-cloud/mediasearch/internal/domain/collection"
	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
	logpkg "github.com/kailas-cloud/mediasearch/internal/logger"
	healthuc "github.com/kailas-cloud/mediasearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/mediasearch/internal/usecase/index"
	queryuc "github.com/kailas-cloud/mediasearch/internal/usecase/query"
)

// DefaultMaxUploadBytes bounds the by_file request body.
const DefaultMaxUploadBytes = 64 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements ServerInterface.
type Server struct {
	query          *queryuc.Service
	indexes        *indexuc.Service
	health         *healthuc.Service
	maxUploadBytes int64
	logger         *zap.Logger
	errorHandlers  []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server.
func NewServer(
	query *queryuc.Service,
	indexes *indexuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		query:          query,
		indexes:        indexes,
		health:         health,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         logger,
	}
	s.errorHandlers = []errorHandler{
		endOfResultsHandler,
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		sentinelHandler(domain.ErrUnsupportedModality,
			http.StatusBadRequest, ErrorResponseCodeUnsupportedModality),
		sentinelHandler(domain.ErrSessionNotFound, http.StatusNotFound, ErrorResponseCodeSessionNotFound),
		sentinelHandler(domain.ErrEntityNotFound, http.StatusNotFound, ErrorResponseCodeEntityNotFound),
		sentinelHandler(domain.ErrNoResults, http.StatusNotFound, ErrorResponseCodeNoResults),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound),
		sentinelHandler(domain.ErrUnsupportedContent,
			http.StatusUnsupportedMediaType, ErrorResponseCodeUnsupportedContent),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorResponseCodeRateLimited),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadGateway, ErrorResponseCodeVectorDimMismatch),
		sentinelHandler(domain.ErrEmbeddingProviderError,
			http.StatusBadGateway, ErrorResponseCodeEmbeddingProviderError),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, ErrorResponseCodeUpstreamUnavailable),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, ErrorResponseCodeTimeout),
	}
	return s
}

// WithMaxUploadBytes bounds uploaded query files.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	if n > 0 {
		s.maxUploadBytes = n
	}
	return s
}

// SearchByText handles POST /api/v1/search/by_text.
func (s *Server) SearchByText(w http.ResponseWriter, r *http.Request) {
	var req SearchByTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sreq, err := searchRequestFromAPI(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}

	page, err := s.query.ByText(r.Context(), req.Text, sreq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pageToAPI(page))
}

// SearchByFile handles POST /api/v1/search/by_file (multipart: file, config).
func (s *Server) SearchByFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorResponseCodePayloadTooLarge,
				fmt.Sprintf("file exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var cfg *SearchConfig
	if raw := r.FormValue("config"); raw != "" {
		cfg = &SearchConfig{}
		if err := json.Unmarshal([]byte(raw), cfg); err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid config: "+err.Error())
			return
		}
	}
	sreq, err := searchRequestFromAPI(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Failed to read file: "+err.Error())
		return
	}

	content := domain.Content{
		Data:     data,
		MIMEType: uploadMIMEType(header.Header.Get("Content-Type"), header.Filename),
		Filename: header.Filename,
	}
	page, err := s.query.ByFile(r.Context(), content, sreq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pageToAPI(page))
}

// SearchByReference handles POST /api/v1/search/by_reference.
func (s *Server) SearchByReference(w http.ResponseWriter, r *http.Request) {
	var req SearchByReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	col, err := domcol.New(req.Dataset, req.Version)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}
	sreq, err := searchRequestFromAPI(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, err.Error())
		return
	}

	page, err := s.query.ByReference(r.Context(), col, req.ID, sreq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pageToAPI(page))
}

// ContinueSearch handles POST /api/v1/search/continue.
// Returns 204 once the session is drained and 404 for unknown sessions.
func (s *Server) ContinueSearch(w http.ResponseWriter, r *http.Request) {
	var req ContinueSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	r = r.WithContext(logpkg.With(r.Context(), zap.String("session_id", req.SessionID)))
	page, err := s.query.Continue(r.Context(), req.SessionID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pageToAPI(page))
}

// ListIndexes handles GET /api/v1/indexes.
func (s *Server) ListIndexes(w http.ResponseWriter, r *http.Request, params ListIndexesParams) {
	var dataset string
	if params.Dataset != nil {
		dataset = *params.Dataset
	}

	infos, err := s.indexes.List(r.Context(), dataset)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]IndexInfo, len(infos))
	for i, info := range infos {
		mods := make([]string, len(info.Modalities))
		for j, m := range info.Modalities {
			mods[j] = string(m)
		}
		items[i] = IndexInfo{
			Dataset:    info.Collection.Dataset,
			Version:    info.Collection.Version,
			RowCount:   info.RowCount,
			Modalities: mods,
		}
	}

	writeJSON(w, http.StatusOK, IndexListResponse{Items: items})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrUnsupportedModality,
		domain.ErrSessionNotFound,
		domain.ErrEntityNotFound,
		domain.ErrNoResults,
		domain.ErrNotFound,
		domain.ErrUnsupportedContent,
		domain.ErrRateLimited,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
		domain.ErrUpstreamUnavailable,
		context.DeadlineExceeded,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// endOfResultsHandler answers a drained session with an empty 204.
func endOfResultsHandler(w http.ResponseWriter, err error, _ string) bool {
	if !errors.Is(err, domain.ErrEndOfResults) {
		return false
	}
	w.WriteHeader(http.StatusNoContent)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	if errors.Is(err, context.Canceled) {
		// Client went away; nobody reads the response.
		log.Debug("request canceled", zap.Error(err))
		return
	}
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Debug("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func searchRequestFromAPI(cfg *SearchConfig) (queryuc.Request, error) {
	if cfg == nil {
		return queryuc.Request{}, nil
	}

	var req queryuc.Request
	if cfg.NCandidates != nil {
		if *cfg.NCandidates <= 0 {
			return queryuc.Request{}, errors.New("n_candidates must be positive")
		}
		req.PageSize = *cfg.NCandidates
	}

	mods, err := modality.ParseSet(cfg.Modalities)
	if err != nil {
		return queryuc.Request{}, fmt.Errorf("modalities: %w", err)
	}
	req.Modalities = mods

	req.Collections = make([]domcol.Collection, 0, len(cfg.Collections))
	for _, ref := range cfg.Collections {
		col, err := domcol.New(ref.Dataset, ref.Version)
		if err != nil {
			return queryuc.Request{}, fmt.Errorf("collection %s/%s: %w", ref.Dataset, ref.Version, err)
		}
		req.Collections = append(req.Collections, col)
	}

	return req, nil
}

func pageToAPI(page queryuc.Page) SearchResponse {
	data := make([]SearchResult, len(page.Hits))
	for i, h := range page.Hits {
		data[i] = searchResultToAPI(h)
	}
	return SearchResponse{
		SessionID: page.SessionID,
		Hits:      len(data),
		Data:      data,
	}
}

func searchResultToAPI(h candidate.WithCollection) SearchResult {
	return SearchResult{
		ID:       h.ID,
		Dataset:  h.Collection.Dataset,
		Version:  h.Collection.Version,
		Path:     h.Path,
		Score:    h.Score,
		Modality: string(h.Modality),
		Span:     [2]int{h.Span.Start, h.Span.End},
	}
}

// uploadMIMEType trusts the part header unless it is missing or generic,
// then falls back to the file extension.
func uploadMIMEType(header, filename string) string {
	if header != "" && header != "application/octet-stream" {
		return header
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return header
}
