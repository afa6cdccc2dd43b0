package middleware

import (
	"net"
	"net/http"

	"github.com/znz-systems/mailpilot/internal/ratelimit"
)

// RateLimit returns middleware that rate-limits requests on a per-IP basis
// using the provided Limiter.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				// If RemoteAddr has no port, use it as-is.
				ip = r.RemoteAddr
			}

			if !limiter.Allow(ip) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
