// Package middleware holds cross-cutting HTTP concerns shared by every
// route the service exposes.
package middleware

import "net/http"

// standardResponseHeaders are set on every response so operators (and the
// scheduler calling these endpoints) can identify which service answered,
// independent of whatever sits in front of it.
var standardResponseHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-Price-Ingest-Service": "true",
}

// SecurityHeaders sets standardResponseHeaders before the handler runs, so
// they're present even if a downstream handler panics and Recoverer takes
// over the response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range standardResponseHeaders {
			h.Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
