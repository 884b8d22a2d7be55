package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coopledger/coopledger/internal/deliveries"
	"github.com/coopledger/coopledger/internal/loans"
	"github.com/coopledger/coopledger/internal/observability"
	"github.com/coopledger/coopledger/internal/settlement"
	"github.com/coopledger/coopledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	DeliveriesHandler *deliveries.Handler
	LoansHandler      *loans.Handler
	SettlementHandler *settlement.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with coopledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.DeliveriesHandler != nil {
			r.Route("/deliveries", params.DeliveriesHandler.MountRoutes)
		}
		if params.LoansHandler != nil {
			r.Route("/loans", params.LoansHandler.MountRoutes)
		}
		if params.SettlementHandler != nil {
			r.Route("/settlements", params.SettlementHandler.MountRoutes)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
