package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check is a named readiness probe over one of the worker's dependencies,
// typically the database pool and the mail relay.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Readyz reports ready only while every dependency answers within the
// timeout. The failing dependency is named in the response so a probe flap
// points straight at the database or the relay.
func Readyz(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				http.Error(w, "not ready: "+c.Name, http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
