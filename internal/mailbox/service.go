package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/sanitizer"
	"github.com/driftmail/driftmail/internal/storage"
)

// Mailbox service errors
var (
	ErrEmailNotFound      = repository.ErrEmailNotFound
	ErrAttachmentNotFound = errors.New("attachment not found")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	previewLength   = 100
)

// EmailStore is the email persistence the mailbox service needs
type EmailStore interface {
	ListByRecipient(ctx context.Context, address string, limit int, after *repository.PageKey) ([]repository.EmailSummary, error)
	CountByRecipient(ctx context.Context, address string) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Email, error)
}

// AttachmentStore is the attachment metadata persistence the mailbox service needs
type AttachmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Attachment, error)
	GetByEmailID(ctx context.Context, emailID uuid.UUID) ([]*repository.Attachment, error)
}

// BlobStore is the blob access the mailbox service needs
type BlobStore interface {
	Get(ctx context.Context, key string) (*storage.Object, error)
}

// Service implements mailbox reads
type Service struct {
	emails      EmailStore
	attachments AttachmentStore
	blobs       BlobStore
	sanitizer   *sanitizer.HTMLSanitizer
	logger      *slog.Logger
}

// NewService creates a mailbox service
func NewService(emails EmailStore, attachments AttachmentStore, blobs BlobStore, htmlSanitizer *sanitizer.HTMLSanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		emails:      emails,
		attachments: attachments,
		blobs:       blobs,
		sanitizer:   htmlSanitizer,
		logger:      logger,
	}
}

// List returns one page of the mailbox for the given recipient address,
// newest first. The limit is clamped to [1, 100] and defaults to 20; a
// malformed cursor degrades to the first page. Total is the exact mailbox
// size, independent of the page window.
func (s *Service) List(ctx context.Context, address string, limit int, cursor string) (*MailboxPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	after := DecodeCursor(cursor)

	// Fetch one extra row to learn whether a further page exists
	rows, err := s.emails.ListByRecipient(ctx, address, limit+1, after)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox %s: %w", address, err)
	}

	total, err := s.emails.CountByRecipient(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to count mailbox %s: %w", address, err)
	}

	page := &MailboxPage{
		Emails: make([]EmailSummaryDTO, 0, limit),
		Total:  total,
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	for _, row := range rows {
		page.Emails = append(page.Emails, EmailSummaryDTO{
			ID:             row.ID.String(),
			From:           row.FromAddress,
			Subject:        row.Subject,
			Preview:        previewText(row.BodyText),
			ReceivedAt:     row.ReceivedAt,
			HasAttachments: row.HasAttachments,
		})
	}

	if hasMore {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(repository.PageKey{
			ReceivedAt: last.ReceivedAt,
			ID:         last.ID,
		})
	}

	return page, nil
}

// GetByID returns the full email view with sanitized HTML and attachment
// metadata. Returns ErrEmailNotFound when the id does not exist.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*EmailDetail, error) {
	email, err := s.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &EmailDetail{
		ID:             email.ID.String(),
		From:           email.FromAddress,
		Subject:        email.Subject,
		BodyText:       email.BodyText,
		BodyHTML:       s.sanitizer.Sanitize(email.BodyHTML),
		ReceivedAt:     email.ReceivedAt,
		HasAttachments: email.HasAttachments,
		Attachments:    []AttachmentDTO{},
	}

	if email.HasAttachments {
		attachments, err := s.attachments.GetByEmailID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load attachments for email %s: %w", id, err)
		}
		for _, att := range attachments {
			detail.Attachments = append(detail.Attachments, AttachmentDTO{
				ID:   att.ID.String(),
				Name: att.Name,
				Type: att.Type,
				Size: att.Size,
			})
		}
	}

	return detail, nil
}

// AttachmentDownload is an attachment ready to stream to a client. The caller
// owns closing Body.
type AttachmentDownload struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// GetAttachment streams one attachment blob. The attachment must belong to
// the given email; a mismatch is reported as not found, same as an unknown
// id.
func (s *Service) GetAttachment(ctx context.Context, emailID, attachmentID uuid.UUID) (*AttachmentDownload, error) {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up attachment %s: %w", attachmentID, err)
	}
	if att == nil || att.EmailID != emailID {
		return nil, ErrAttachmentNotFound
	}

	obj, err := s.blobs.Get(ctx, storage.ObjectKey(emailID, attachmentID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Metadata row without a blob: the tail's blob half failed
			s.logger.Warn("attachment blob missing",
				"email_id", emailID,
				"attachment_id", attachmentID,
			)
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("failed to fetch attachment blob: %w", err)
	}

	contentType := att.Type
	if contentType == "" {
		contentType = obj.ContentType
	}

	return &AttachmentDownload{
		Body:        obj.Body,
		Name:        att.Name,
		ContentType: contentType,
		Size:        att.Size,
	}, nil
}

// previewText returns the first previewLength characters of the body, cut on
// rune boundaries. No word-boundary trimming and no ellipsis.
func previewText(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLength {
		return body
	}
	return string(runes[:previewLength])
}
