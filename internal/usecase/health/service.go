package health

import (
	"context"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an auxiliary component is failing; search still works.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	ComponentVectorStore = "vector_store"
	ComponentCache       = "cache"
	ComponentEmbedding   = "embedding"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	vectors   Pinger
	cache     Pinger
	embedding EmbeddingChecker
	logger    *zap.Logger
}

// New creates a Service. embedding can be nil.
func New(vectors Pinger, embedding EmbeddingChecker, logger *zap.Logger) *Service {
	return &Service{vectors: vectors, embedding: embedding, logger: logger}
}

// WithCache adds the embedding cache to the checks.
func (s *Service) WithCache(cache Pinger) *Service {
	s.cache = cache
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, 3)

	checks[ComponentVectorStore] = s.result(ComponentVectorStore, s.vectors.Ping(ctx))
	if s.cache != nil {
		checks[ComponentCache] = s.result(ComponentCache, s.cache.Ping(ctx))
	}
	if s.embedding != nil {
		checks[ComponentEmbedding] = s.result(ComponentEmbedding, s.embedding.HealthCheck(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[ComponentVectorStore] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) result(component string, err error) CheckResult {
	if err != nil {
		s.logger.Warn("Health check failed", zap.String("component", component), zap.Error(err))
		return CheckError
	}
	return CheckOK
}
