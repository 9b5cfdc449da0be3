/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for an operator frontend

ROUTE GROUPS:
  /api/reports/*     Report processing and entry listings
  /api/identities/*  Identity lookup, activation, merge
  /api/projects/*    Project entries and labor cost
  /api/entries/*     Entry corrections and sign-off
  /api/review/*      Pending human decisions
  /api/export/*      Payroll CSV
  /api/scenarios/*   Demo data loaders (dev/demo only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Post("/{id}/process", h.ProcessReport)
			r.Get("/{id}/entries", h.ReportEntries)
		})

		r.Route("/identities", func(r chi.Router) {
			r.Get("/", h.ListIdentities)
			r.Get("/lookup", h.LookupIdentity)
			r.Get("/{id}", h.GetIdentity)
			r.Get("/{id}/entries", h.IdentityEntries)
			r.Get("/{id}/hours", h.IdentityHours)
			r.Post("/{id}/activate", h.ActivateIdentity)
			r.Post("/{id}/merge", h.MergeIdentity)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/{id}/entries", h.ProjectEntries)
			r.Get("/{id}/labor-cost", h.ProjectLaborCost)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Post("/{id}/correct", h.CorrectEntry)
			r.Post("/{id}/approve", h.ApproveEntry)
			r.Post("/{id}/reject", h.RejectEntry)
		})

		r.Route("/review", func(r chi.Router) {
			r.Get("/", h.ListReviewItems)
			r.Post("/{id}/resolve-ambiguous", h.ResolveAmbiguous)
			r.Post("/{id}/resolve-entry", h.ResolveEntry)
		})

		r.Get("/export/payroll.csv", h.ExportPayrollCSV)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
