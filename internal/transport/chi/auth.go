package chi

import (
	"context"
	"net/http"
	"strings"
)

// exemptPaths are routes that bypass authentication and rate limiting (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// APIKey is a static caller credential.
type APIKey struct {
	Name    string
	Key     string
	Enabled bool
}

type callerKey struct{}

// Caller returns the authenticated key name, or "" when auth is disabled.
func Caller(ctx context.Context) string {
	name, _ := ctx.Value(callerKey{}).(string)
	return name
}

// AuthMiddleware validates the x-api-key header or a Bearer token.
// Unknown or missing keys get 401, disabled keys 403. With no keys
// configured authentication is disabled (pass-through).
func AuthMiddleware(keys []APIKey) func(http.Handler) http.Handler {
	byKey := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		if k.Key != "" {
			byKey[k.Key] = k
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled, pass everything through
		if len(byKey) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := credential(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing api key")
				return
			}

			k, ok := byKey[token]
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}
			if !k.Enabled {
				writeError(w, http.StatusForbidden, CodeForbidden, "api key is disabled")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, k.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credential prefers x-api-key over the Authorization header.
func credential(r *http.Request) (string, bool) {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k, true
	}
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		if token := strings.TrimSpace(auth[len(bearerPrefix):]); token != "" {
			return token, true
		}
	}
	return "", false
}
