package chi

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/mediasearch/internal/metrics"
)

// RateLimitMiddleware rejects requests above rps with 429. Exempt paths are never limited.
// rps <= 0 disables limiting (pass-through).
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = int(math.Ceil(rps))
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			res := limiter.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				metrics.RateLimitedTotal.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				writeError(w, http.StatusTooManyRequests, ErrorResponseCodeRateLimited, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
