package mailbox

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers mailbox and email routes with the Chi router
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/mailboxes/{address}", func(r chi.Router) {
		// GET /api/v1/mailboxes/{address}/emails - List mailbox, newest first
		r.Get("/emails", handler.List)

		// DELETE /api/v1/mailboxes/{address} - Delete every email in a mailbox
		r.Delete("/", handler.DeleteMailbox)
	})

	r.Route("/emails/{id}", func(r chi.Router) {
		// GET /api/v1/emails/{id} - Full email detail
		r.Get("/", handler.GetByID)

		// DELETE /api/v1/emails/{id} - Delete one email
		r.Delete("/", handler.Delete)

		// GET /api/v1/emails/{id}/attachments/{attachmentId} - Download attachment
		r.Get("/attachments/{attachmentId}", handler.DownloadAttachment)
	})
}
