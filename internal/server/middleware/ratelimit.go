package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/faucetdb/keysmith/internal/autherr"
	"github.com/faucetdb/keysmith/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// FloodGuard returns an HTTP middleware that caps the raw request rate per
// IP address at requestsPerMinute, before any category accounting happens.
// It reports through its own X-Flood-* headers so that the category limiter
// owns the X-RateLimit-* set. A non-positive limit disables the guard.
func FloodGuard(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithResponseHeaders(httprate.ResponseHeaders{
			Limit:      "X-Flood-Limit",
			Remaining:  "X-Flood-Remaining",
			RetryAfter: HeaderRetryAfter,
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, autherr.New(autherr.RateLimitExceeded, "too many requests from this address"))
		}),
	)
}

// SetRateLimitHeaders publishes a limiter decision on the response. The
// reset value is whole seconds, rounded up.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Category == "" {
		return
	}
	h := w.Header()
	h.Set(HeaderRateLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateReset, strconv.FormatInt(ceilSeconds(d.ResetIn), 10))
	if !d.Allowed {
		h.Set(HeaderRetryAfter, strconv.FormatInt(max(ceilSeconds(d.ResetIn), 1), 10))
	}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
