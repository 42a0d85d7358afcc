package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// messageRequest is the JSON shape of an inbound message. Attachment content
// is base64 in transit.
type messageRequest struct {
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Subject     string              `json:"subject"`
	BodyText    string              `json:"body_text"`
	BodyHTML    string              `json:"body_html"`
	Attachments []attachmentRequest `json:"attachments"`
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Handler exposes the ingestion pipeline over HTTP
type Handler struct {
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewHandler creates a new ingestion handler
func NewHandler(pipeline *Pipeline, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pipeline: pipeline, logger: logger}
}

// Submit handles POST /api/v1/messages. Accepted messages return 202 with
// the assigned id; messages dropped for an incomplete envelope return 204 so
// the submitter sees the same success it would for a stored message.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be valid JSON",
		})
		return
	}

	msg := &ParsedMessage{
		From:     req.From,
		To:       req.To,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}
	for _, att := range req.Attachments {
		msg.Attachments = append(msg.Attachments, RawAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		})
	}

	id, accepted, err := h.pipeline.Ingest(r.Context(), msg)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to store message",
		})
		return
	}

	if !accepted {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":          id.String(),
		"accepted_at": time.Now().UTC(),
	})
}

// RegisterRoutes registers ingestion routes with the Chi router
func RegisterRoutes(r chi.Router, handler *Handler) {
	// POST /api/v1/messages - Submit an inbound message
	r.Post("/messages", handler.Submit)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
