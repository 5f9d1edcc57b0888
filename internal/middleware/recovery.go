package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/pkg"
)

// PanicRecovery turns a handler panic into a 500 JSON response and counts it.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(recovered)
				}

				log.WithFields(log.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"route":  routeName(r),
				}).Errorf("panic while serving request: %v\n%s", recovered, debug.Stack())

				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				pkg.WriteJSON(w, http.StatusInternalServerError, apperr.ErrorResponse{
					Message: "unexpected error",
					Error:   "internal server error",
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
