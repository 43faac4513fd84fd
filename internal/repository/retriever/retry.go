package retriever

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig bounds retries of transient vector store failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns three attempts with 50ms..1s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// boundedRetryer stops a gax retryer after a fixed number of attempts.
type boundedRetryer struct {
	inner   gax.Retryer
	left    int
	onRetry func(err error)
}

func (r *boundedRetryer) Retry(err error) (time.Duration, bool) {
	if r.left <= 1 {
		return 0, false
	}
	pause, ok := r.inner.Retry(err)
	if !ok {
		return 0, false
	}
	r.left--
	if r.onRetry != nil {
		r.onRetry(err)
	}
	return pause, true
}

// invoke runs call, retrying transient errors within the configured budget.
func invoke(ctx context.Context, cfg RetryConfig, onRetry func(error), call func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		return call(ctx)
	}, gax.WithRetry(func() gax.Retryer {
		return &boundedRetryer{
			inner: gax.OnErrorFunc(gax.Backoff{
				Initial:    cfg.InitialBackoff,
				Max:        cfg.MaxBackoff,
				Multiplier: 2,
			}, isTransient),
			left:    attempts,
			onRetry: onRetry,
		}
	}))
}

// isTransient reports whether err is worth another attempt.
// Caller cancellation never is.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}
