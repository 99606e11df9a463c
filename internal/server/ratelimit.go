package server

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/api/response"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/metrics"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitMiddleware enforces the per-identity quota. The identity is the
// verified API key, or the caller's address when none is attached. Denied
// requests get the 429 envelope; a store failure goes to errs.
func RateLimitMiddleware(limiter *ratelimit.Limiter, errs *ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := APIKeyFromContext(r.Context())
			if identity == "" {
				identity = RemoteHost(r)
			}
			if identity == "" {
				identity = "unknown"
			}

			res, err := limiter.Allow(r.Context(), identity)
			if err != nil {
				errs.HandleError(w, r, fmt.Errorf("rate limit: %w", err))
				return
			}

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
			h.Set(HeaderRateLimitReset, strconv.Itoa(ceilSeconds(res.ResetAfter)))

			if !res.Allowed {
				metrics.RateLimitRejects.Inc()
				AddLogField(r.Context(), "rate_limited", "true")
				h.Set("Retry-After", strconv.Itoa(ceilSeconds(res.ResetAfter)))
				response.Failure(w, http.StatusTooManyRequests, response.MsgTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RemoteHost returns the host part of the request's socket address, or the
// raw address when it has no port.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
