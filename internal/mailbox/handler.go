package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// APIResponse is the standard response envelope
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError is the error detail in an API response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Deleter removes emails together with their blobs
type Deleter interface {
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteMailbox(ctx context.Context, address string) (int, error)
}

// Handler handles HTTP requests for mailbox and email endpoints
type Handler struct {
	service  *Service
	deleter  Deleter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(service *Service, deleter Deleter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		deleter:  deleter,
		validate: validator.New(),
		logger:   logger,
	}
}

// List handles GET /api/v1/mailboxes/{address}/emails
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := h.validate.Var(address, "required,email"); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Mailbox address must be a valid email address")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := h.service.List(r.Context(), address, limit, cursor)
	if err != nil {
		h.logger.Error("failed to list mailbox", "address", address, "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list mailbox")
		return
	}

	h.writeSuccess(w, http.StatusOK, page)
}

// DeleteMailbox handles DELETE /api/v1/mailboxes/{address}
func (h *Handler) DeleteMailbox(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := h.validate.Var(address, "required,email"); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Mailbox address must be a valid email address")
		return
	}

	deleted, err := h.deleter.DeleteMailbox(r.Context(), address)
	if err != nil {
		h.logger.Error("failed to delete mailbox", "address", address, "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete mailbox")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// GetByID handles GET /api/v1/emails/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	detail, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEmailNotFound) {
			h.writeError(w, http.StatusNotFound, "EMAIL_NOT_FOUND", "Email not found")
			return
		}
		h.logger.Error("failed to get email", "email_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get email")
		return
	}

	h.writeSuccess(w, http.StatusOK, detail)
}

// Delete handles DELETE /api/v1/emails/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	deleted, err := h.deleter.DeleteByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete email", "email_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete email")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "EMAIL_NOT_FOUND", "Email not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DownloadAttachment handles GET /api/v1/emails/{id}/attachments/{attachmentId}
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	emailID, ok := h.parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	attachmentID, err := uuid.Parse(chi.URLParam(r, "attachmentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ID", "Attachment ID must be a valid UUID")
		return
	}

	download, err := h.service.GetAttachment(r.Context(), emailID, attachmentID)
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			h.writeError(w, http.StatusNotFound, "ATTACHMENT_NOT_FOUND", "Attachment not found")
			return
		}
		h.logger.Error("failed to download attachment",
			"email_id", emailID,
			"attachment_id", attachmentID,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to download attachment")
		return
	}
	defer download.Body.Close()

	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Name))
	if download.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, download.Body); err != nil {
		h.logger.Error("failed to stream attachment",
			"attachment_id", attachmentID,
			"error", err,
		)
	}
}

// parseID validates the path id before any store access
func (h *Handler) parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ID", "Email ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
