package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
// responderKeyHashes protects the approval response endpoint.
func MountRoutes(r chi.Router, h *Handlers, responderKeyHashes []string) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Decisions
		r.Post("/decisions", h.SubmitDecision)
		r.Get("/decisions/{id}", h.GetDecision)

		// Human approvals
		r.Get("/approvals", h.ListPendingApprovals)
		r.With(RequireResponderKey(responderKeyHashes)).
			Post("/approvals/{id}", h.RespondApproval)

		// Audit log
		r.Get("/audit", h.ListAuditEntries)
		r.Get("/audit/verify", h.VerifyAuditChain)
	})
}
