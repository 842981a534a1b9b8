package middleware

import "net/http"

// BodyLimit caps the inbound request body at maxBytes. Handlers buffer the
// full body for failover replay, so the cap is also the per-request memory
// bound; reads past it fail with a *http.MaxBytesError.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
