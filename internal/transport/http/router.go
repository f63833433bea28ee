// Package httptransport is the thin HTTP layer. It delegates to the domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vcbridge/internal/platform/health"
	"vcbridge/internal/platform/middleware"
	statushandler "vcbridge/internal/statuslist/handler"
)

// Deps carries everything the router wires up.
type Deps struct {
	Issuance     IssuanceService
	Verification VerificationService
	Dispatcher   Dispatcher
	StatusLists  statushandler.Service
	Health       *health.Handler
	Logger       *slog.Logger
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		issuance := NewIssuanceHandler(deps.Issuance, deps.Logger)
		issuance.Register(r)

		verification := NewVerificationHandler(deps.Verification, deps.Logger)
		verification.Register(r)

		sessions := NewSessionHandler(deps.Issuance, deps.Verification, deps.Dispatcher, deps.Logger)
		sessions.Register(r)
	})

	statushandler.New(deps.StatusLists, deps.Logger).Register(r)

	return r
}
