package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-oa/meridian-oa/internal/approval"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/observability"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/settlement"
	"github.com/meridian-oa/meridian-oa/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	SettlementHandler *settlement.Handler
	LedgerHandler     *ledger.Handler
	ApprovalHandler   *approval.Handler
	OrgHandler        *org.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.SettlementHandler != nil {
		params.SettlementHandler.MountRoutes(r)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.ApprovalHandler != nil {
		r.Route("/approvals", params.ApprovalHandler.MountRoutes)
	}
	if params.OrgHandler != nil {
		r.Route("/org", params.OrgHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
