package middleware

import (
	"io"
	"net/http"
)

// DrainAndCloseRequest drains (up to maxDrainBytes) and closes the request body once the handler is done,
// so the connection can be reused. Bodies larger than that are just closed.
func DrainAndCloseRequest(maxDrainBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body != nil {
				_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxDrainBytes))
				_ = r.Body.Close()
			}
		})
	}
}
