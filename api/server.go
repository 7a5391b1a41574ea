/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. Logger:       Request logging
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for frontends
  5. RequireActor: Identity headers → procurement.Actor (/api only)

ROUTE GROUPS:
  /healthz                   Liveness
  /api/requisitions/*        Requisition lifecycle, RFQ, scoring, award
  /api/quotations/*          Vendor quotation edits
  /api/purchase-orders/*     PO status, receipts, invoices
  /api/invoices/*            Payment

SECURITY NOTE:
  Authentication happens upstream. The gateway sets the X-Actor-* headers;
  role and ownership checks are enforced by procurement.Service.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Identity headers
  - cmd/procure/serve.go: Server startup
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
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			HeaderActorID, HeaderActorName, HeaderActorRoles, HeaderVendorID},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor)

		r.Route("/requisitions", func(r chi.Router) {
			r.Get("/", h.ListRequisitions)
			r.Post("/", h.CreateRequisition)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequisition)
				r.Post("/submit", h.requisitionAction(withoutComment(h.Service.SubmitRequisition)))
				r.Post("/approve", h.requisitionAction(h.Service.ApproveRequisition))
				r.Post("/reject", h.requisitionAction(h.Service.RejectRequisition))
				r.Post("/cancel", h.requisitionAction(h.Service.CancelRequisition))
				r.Put("/criteria", h.SetCriteria)
				r.Put("/committee", h.AssignCommittee)
				r.Post("/rfq", h.SendRFQ)

				// Quotations and scoring
				r.Get("/quotations", h.ListQuotations)
				r.Post("/quotations", h.SubmitQuotation)
				r.Post("/scoring/start", h.requisitionAction(withoutComment(h.Service.StartScoring)))
				r.Get("/scores", h.ListScores)
				r.Post("/scores", h.SubmitScores)
				r.Post("/scoring/complete", h.requisitionAction(withoutComment(h.Service.CompleteScoring)))

				// Award
				r.Route("/award", func(r chi.Router) {
					r.Post("/finalize", h.FinalizeAward)
					r.Post("/approve", h.requisitionAction(h.Service.ApproveAward))
					r.Post("/reject", h.requisitionAction(h.Service.RejectAward))
					r.Post("/notify", h.requisitionAction(withoutComment(h.Service.NotifyVendors)))
					r.Post("/accept", h.AcceptAward)
					r.Post("/decline", h.DeclineAward)
					r.Post("/promote", h.PromoteStandby)
					r.Post("/reset", h.requisitionAction(h.Service.ResetForNewRFQ))
					r.Post("/restart", h.RestartItems)
				})

				// Fulfilment and records
				r.Get("/purchase-orders", h.ListPurchaseOrders)
				r.Get("/invoices", h.ListInvoices)
				r.Post("/close", h.requisitionAction(withoutComment(h.Service.CloseRequisition)))
				r.Get("/minutes", h.ListMinutes)
				r.Get("/audit", h.ListAudit)
			})
		})

		r.Put("/quotations/{id}", h.UpdateQuotation)

		r.Route("/purchase-orders/{id}", func(r chi.Router) {
			r.Post("/status", h.UpdatePOStatus)
			r.Post("/receipts", h.ReceiveGoods)
			r.Post("/invoices", h.SubmitInvoice)
		})

		r.Post("/invoices/{id}/pay", h.PayInvoice)
	})

	return r
}
