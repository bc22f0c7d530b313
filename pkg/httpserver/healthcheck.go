package httpserver

import (
	"context"
	"log/slog"
	"net/http"
)

// HealthCheckHandler returns an HTTP handler usable for both liveness and
// readiness probes. With no dependency checks supplied it answers 200 "ALIVE".
// With checks supplied it runs each one against the request context and
// answers 200 "READY" only when all succeed, otherwise 500 "NOT_READY".
func HealthCheckHandler(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}

		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
