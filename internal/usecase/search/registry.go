package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mediasearch/internal/domain"
	"github.com/kailas-cloud/mediasearch/internal/domain/candidate"
	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// Registry defaults.
const (
	DefaultMaxSessions = 2048
	DefaultSessionTTL  = 10 * time.Minute
)

// Close reasons reported to metrics.
const (
	reasonRemoved  = "removed"
	reasonEvicted  = "evicted"
	reasonShutdown = "shutdown"
)

// entry guards one session's stream. The mutex serializes Advance calls.
type entry struct {
	mu     sync.Mutex
	stream stream
	closed bool
	// evicted is set as soon as the cache drops the entry.
	evicted atomic.Bool
	// reason is set before an explicit removal; empty means capacity or TTL eviction.
	reason atomic.Pointer[string]
}

// Registry maps session ids to live streams with size and idle-time bounds.
// Evicted streams are closed in the background.
type Registry struct {
	sessions *expirable.LRU[string, *entry]
	closing  atomic.Bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewRegistry creates a registry holding at most size sessions, each expiring
// after ttl without access.
func NewRegistry(size int, ttl time.Duration, logger *zap.Logger) *Registry {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	r := &Registry{logger: logger}
	r.sessions = expirable.NewLRU[string, *entry](size, r.onEvict, ttl)
	return r
}

// onEvict runs under the cache lock, so closing happens on a separate goroutine.
func (r *Registry) onEvict(id string, e *entry) {
	reason := reasonEvicted
	if p := e.reason.Load(); p != nil {
		reason = *p
	} else if r.closing.Load() {
		reason = reasonShutdown
	}
	e.evicted.Store(true)
	metrics.SessionsActive.Dec()
	metrics.SessionEvictionsTotal.WithLabelValues(reason).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.closed = true
		if err := e.stream.Close(); err != nil {
			r.logger.Warn("Failed to close search session",
				zap.String("session_id", id), zap.Error(err))
		}
		if reason != reasonRemoved {
			r.logger.Debug("Search session closed",
				zap.String("session_id", id), zap.String("reason", reason))
		}
	}()
}

// Put registers a stream under id.
func (r *Registry) Put(id string, s stream) {
	if !r.sessions.Contains(id) {
		metrics.SessionsActive.Inc()
	}
	r.sessions.Add(id, &entry{stream: s})
}

// Advance pulls the next page of the session. Concurrent callers on the same
// id are served one after another. An exhausted session is removed and
// reported as domain.ErrEndOfResults; later calls get domain.ErrSessionNotFound.
func (r *Registry) Advance(ctx context.Context, id string) ([]candidate.WithCollection, error) {
	e, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.evicted.Load() {
		r.remove(id, e)
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	// Re-adding refreshes the idle deadline.
	r.sessions.Add(id, e)

	page, err := e.stream.Advance(ctx)
	if errors.Is(err, domain.ErrEndOfResults) {
		e.closed = true
		_ = e.stream.Close()
		r.remove(id, e)
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrEndOfResults)
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Remove closes and forgets a session. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	if e, ok := r.sessions.Peek(id); ok {
		r.remove(id, e)
	}
}

// remove drops id only while it still maps to e.
func (r *Registry) remove(id string, e *entry) {
	cur, ok := r.sessions.Peek(id)
	if !ok || cur != e {
		return
	}
	reason := reasonRemoved
	e.reason.Store(&reason)
	r.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close drops every session and waits until their streams are closed.
func (r *Registry) Close() {
	r.closing.Store(true)
	r.sessions.Purge()
	r.wg.Wait()
}
