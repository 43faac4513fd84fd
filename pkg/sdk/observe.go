package mediasearch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sdkMetrics holds prometheus metrics registered for the SDK.
type sdkMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pageHits   *prometheus.HistogramVec
	exhausted  prometheus.Counter
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "Total SDK operations by type and status.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "SDK operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		pageHits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "sdk",
			Name:      "page_hits",
			Help:      "Hits returned per page.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
		}, []string{"operation"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "sdk",
			Name:      "sessions_exhausted_total",
			Help:      "Sessions that ran out of results.",
		}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.pageHits); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.exhausted); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("mediasearch: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("mediasearch: register metric: %w", err)
	}
	return nil
}

// observer provides logging and metrics for SDK operations. A nil observer is a no-op.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	var m *sdkMetrics
	if reg != nil {
		var err error
		m, err = newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
	}
	return &observer{logger: logger, metrics: m}, nil
}

// status labels an outcome. The end of a session is not a failure.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEndOfResults):
		return "end_of_results"
	default:
		return "error"
	}
}

func (o *observer) observe(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	st := status(err)

	if o.metrics != nil {
		o.metrics.operations.WithLabelValues(op, st).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
		if st == "end_of_results" {
			o.metrics.exhausted.Inc()
		}
	}

	if o.logger == nil {
		return
	}
	if st == "error" {
		o.logger.Warn("operation failed", "op", op, "duration", dur, "error", err)
		return
	}
	o.logger.Debug("operation completed", "op", op, "duration", dur, "status", st)
}

// observePage records a search operation and the size of the page it produced.
func (o *observer) observePage(op string, start time.Time, page Page, err error) {
	o.observe(op, start, err)
	if o == nil || o.metrics == nil || err != nil {
		return
	}
	o.metrics.pageHits.WithLabelValues(op).Observe(float64(len(page.Hits)))
}

func (o *observer) warn(msg string, args ...any) {
	if o == nil || o.logger == nil {
		return
	}
	o.logger.Warn(msg, args...)
}
