package middleware

import (
	"log"
	"net/http"

	"github.com/nadmax/harvest/internal/httputil"
)

// APIKeyAuth checks the X-API-Key header against the configured key set.
// With no keys configured, authentication is disabled and every request
// passes (development mode).
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" {
			keySet[k] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keySet) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				httputil.WriteJSONError(w, "missing API key, include the X-API-Key header", http.StatusUnauthorized)
				return
			}
			if !keySet[key] {
				log.Printf("Rejected request with invalid API key")
				httputil.WriteJSONError(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
