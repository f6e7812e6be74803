package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/bundlekit/pkg/catalog"
	"github.com/dmitrymomot/bundlekit/pkg/history"
	"github.com/dmitrymomot/bundlekit/pkg/impact"
	"github.com/dmitrymomot/bundlekit/pkg/ledger"
	"github.com/dmitrymomot/bundlekit/pkg/pricing"
	"github.com/dmitrymomot/bundlekit/pkg/revshare"
)

// Server exposes the entitlement engine over JSON. It is a thin transport:
// all invariants live in the domain services.
type Server struct {
	catalog    catalog.Service
	calculator *pricing.Calculator
	ledger     ledger.Service
	impact     impact.Service
	revenue    revshare.Service
	history    history.Store
}

// NewServer wires the domain services into an HTTP surface. Panics on nil
// required services; history may be nil, which disables the history routes.
func NewServer(
	catalogSvc catalog.Service,
	calculator *pricing.Calculator,
	ledgerSvc ledger.Service,
	impactSvc impact.Service,
	revenueSvc revshare.Service,
	historyStore history.Store,
) *Server {
	if catalogSvc == nil || calculator == nil || ledgerSvc == nil || impactSvc == nil || revenueSvc == nil {
		panic("httpapi: all domain services are required")
	}
	return &Server{
		catalog:    catalogSvc,
		calculator: calculator,
		ledger:     ledgerSvc,
		impact:     impactSvc,
		revenue:    revenueSvc,
		history:    historyStore,
	}
}

// Router builds the chi router for the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/bundles", func(r chi.Router) {
		r.Get("/", s.listBundles)
		r.Post("/", s.defineBundle)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", s.getBundle)
			r.Get("/versions/{version}", s.getBundleVersion)
			r.Post("/changes", s.proposeChange)
			r.Post("/analyze", s.analyzeChange)
			r.Post("/rollback", s.rollbackBundle)
		})
	})

	r.Route("/changes/{id}", func(r chi.Router) {
		r.Get("/", s.getChangeRequest)
		r.Post("/apply", s.applyChange)
	})

	r.Route("/analyses/{id}", func(r chi.Router) {
		r.Get("/", s.getReport)
		r.Post("/execute", s.executeMigration)
	})

	r.Post("/pricing/quote", s.quotePrice)

	r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
		r.Get("/subscription", s.getSubscription)
		r.Put("/subscription", s.setBundles)
		r.Delete("/subscription", s.cancelSubscription)
		r.Get("/access/{feature}", s.checkAccess)
		r.Post("/consume", s.consume)
		r.Post("/rollover", s.rolloverPeriod)
		r.Route("/revenue/{period}", func(r chi.Router) {
			r.Get("/", s.periodRevenue)
			r.Post("/close", s.closePeriod)
			r.Get("/record", s.getRevenueRecord)
		})
	})

	r.Post("/revenue/events", s.recordRevenueEvent)

	if s.history != nil {
		r.Get("/history", s.listHistory)
	}

	return r
}
