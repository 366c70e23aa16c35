package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// APIKey rejects requests whose ?key= query parameter does not match key,
// answering in the identity provider's error format.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    http.StatusBadRequest,
						"message": "API key not valid. Please pass a valid API key.",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
