package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/metrics"
	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/storage"
)

// EmailStore is the email persistence the pipeline needs
type EmailStore interface {
	CreateWithRecipients(ctx context.Context, email *repository.Email, recipients []string) error
	SetHasAttachments(ctx context.Context, id uuid.UUID, has bool) error
}

// AttachmentStore is the attachment metadata persistence the pipeline needs
type AttachmentStore interface {
	Create(ctx context.Context, attachment *repository.Attachment) error
}

// BlobStore is the blob persistence the pipeline needs
type BlobStore interface {
	Put(ctx context.Context, key string, content []byte, contentType, filename string) error
}

// ParsedMessage is an inbound message after MIME parsing, before ingestion
type ParsedMessage struct {
	From        string
	To          []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Attachments []RawAttachment
}

// Pipeline ingests parsed messages. The email row and its recipients commit
// synchronously; attachment persistence runs in a background tail that never
// fails the ingestion.
type Pipeline struct {
	emails      EmailStore
	attachments AttachmentStore
	blobs       BlobStore
	filter      *Filter
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(emails EmailStore, attachments AttachmentStore, blobs BlobStore, filter *Filter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		emails:      emails,
		attachments: attachments,
		blobs:       blobs,
		filter:      filter,
		logger:      logger,
	}
}

// Ingest processes one parsed message. Messages without a sender or without
// recipients are dropped silently: accepted is false and err is nil, and the
// caller acknowledges as if stored. On acceptance the returned id identifies
// the committed email; attachments may still be persisting when Ingest
// returns.
func (p *Pipeline) Ingest(ctx context.Context, msg *ParsedMessage) (id uuid.UUID, accepted bool, err error) {
	if msg.From == "" || len(msg.To) == 0 {
		p.logger.Debug("dropping message with incomplete envelope",
			"has_from", msg.From != "",
			"recipient_count", len(msg.To),
		)
		metrics.EmailsDropped.Inc()
		return uuid.Nil, false, nil
	}

	admitted := p.filter.Admit(msg.Attachments)

	email := &repository.Email{
		ID:             uuid.New(),
		FromAddress:    msg.From,
		Subject:        msg.Subject,
		BodyText:       msg.BodyText,
		BodyHTML:       msg.BodyHTML,
		HasAttachments: len(admitted) > 0,
	}

	if err := p.emails.CreateWithRecipients(ctx, email, msg.To); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to ingest email: %w", err)
	}

	metrics.EmailsIngested.Inc()
	p.logger.Info("email ingested",
		"email_id", email.ID,
		"recipient_count", len(msg.To),
		"attachment_count", len(admitted),
	)

	if len(admitted) > 0 {
		// The request context may be cancelled as soon as the caller is
		// acknowledged; the tail keeps going.
		tailCtx := context.WithoutCancel(ctx)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.persistAttachments(tailCtx, email.ID, admitted)
		}()
	}

	return email.ID, true, nil
}

// persistAttachments stores admitted attachments, one goroutine per
// attachment. The metadata row and the blob are independent halves: a failed
// blob put leaves the row in place, and vice versa. If no metadata row lands
// at all, the email's has_attachments flag is corrected back to false.
func (p *Pipeline) persistAttachments(ctx context.Context, emailID uuid.UUID, admitted []RawAttachment) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		rowsSaved int
	)

	for _, att := range admitted {
		wg.Add(1)
		go func(att RawAttachment) {
			defer wg.Done()

			attachmentID := uuid.New()
			row := &repository.Attachment{
				ID:      attachmentID,
				EmailID: emailID,
				Name:    att.Filename,
				Type:    att.ContentType,
				Size:    int64(len(att.Content)),
			}

			if err := p.attachments.Create(ctx, row); err != nil {
				metrics.AttachmentPersistFailures.WithLabelValues("metadata").Inc()
				p.logger.Error("failed to persist attachment metadata",
					"email_id", emailID,
					"filename", att.Filename,
					"error", err,
				)
			} else {
				mu.Lock()
				rowsSaved++
				mu.Unlock()
			}

			key := storage.ObjectKey(emailID, attachmentID)
			if err := p.blobs.Put(ctx, key, att.Content, att.ContentType, att.Filename); err != nil {
				metrics.AttachmentPersistFailures.WithLabelValues("blob").Inc()
				p.logger.Error("failed to persist attachment blob",
					"email_id", emailID,
					"key", key,
					"error", err,
				)
			}
		}(att)
	}

	wg.Wait()

	if rowsSaved == 0 {
		if err := p.emails.SetHasAttachments(ctx, emailID, false); err != nil {
			p.logger.Error("failed to clear has_attachments flag",
				"email_id", emailID,
				"error", err,
			)
		}
	}
}

// Wait blocks until all in-flight attachment tails finish. Called on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
