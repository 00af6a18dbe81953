// Package httptransport assembles the public router: domain handlers,
// middleware chain and the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"repertor/internal/platform/middleware"
)

// Pinger is the readiness probe dependency, satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Registrar is a domain handler that mounts its routes.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires all endpoints. Auth sits inside each domain handler; the
// operational endpoints stay open.
func NewRouter(logger *slog.Logger, db Pinger, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if db != nil {
			if err := db.PingContext(req.Context()); err != nil {
				logger.WarnContext(req.Context(), "readiness probe failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
