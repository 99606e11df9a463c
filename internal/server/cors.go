package server

import (
	"net/http"
	"strings"
)

var (
	corsAllowedMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}
	corsExposedHeaders = []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}
)

// CORSMiddleware allows cross-origin calls from a single origin, the web
// application the API serves. The configured origin is always advertised and
// the browser enforces the match. OPTIONS requests are answered as preflight
// with 204 and never reach the routes.
func CORSMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	allowedOrigin = strings.TrimSuffix(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Add("Vary", "Origin")

			if r.Method != http.MethodOptions {
				h.Set("Access-Control-Expose-Headers", strings.Join(corsExposedHeaders, ", "))
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Methods", strings.Join(corsAllowedMethods, ","))
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
