package server

import (
	"context"
	"net/http"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/api/response"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/auth"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/metrics"
)

// APIKeyHeader is the request header holding the caller's API key.
const APIKeyHeader = "x-api-key"

// apiKeyContextKey is the context key for the verified API key.
type apiKeyContextKey struct{}

// AuthMiddleware rejects requests whose x-api-key is absent or not in keys
// with the 403 envelope. On success the verified key is stored in the context.
func AuthMiddleware(keys *auth.KeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)

			if err := keys.Validate(apiKey); err != nil {
				metrics.AuthRejects.Inc()
				AddError(r.Context(), err)
				response.Failure(w, http.StatusForbidden, response.MsgForbidden)
				return
			}

			// Log a short fingerprint, never the key itself.
			AddLogField(r.Context(), "api_key", auth.HashAPIKey(apiKey)[:12])

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyFromContext retrieves the verified API key.
// Returns an empty string if the request was not authenticated.
func APIKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}
