package repository

import (
	"time"

	"github.com/google/uuid"
)

// Email represents a received email in the database.
// ReceivedAt is an epoch-milliseconds timestamp assigned by the database on
// insert; together with ID it forms the total order used for pagination.
type Email struct {
	ID             uuid.UUID `db:"id"`
	FromAddress    string    `db:"from_address"`
	Subject        string    `db:"subject"`
	BodyText       string    `db:"body_text"`
	BodyHTML       string    `db:"body_html"`
	ReceivedAt     int64     `db:"received_at"`
	HasAttachments bool      `db:"has_attachments"`
}

// Recipient represents one recipient row of an email. Rows are created with
// the parent email and only ever removed by its cascade delete.
type Recipient struct {
	ID      int64     `db:"id"`
	EmailID uuid.UUID `db:"email_id"`
	Address string    `db:"address"`
}

// Attachment represents attachment metadata in the database. The blob itself
// lives in object storage under {email_id}/{id}.
type Attachment struct {
	ID        uuid.UUID `db:"id"`
	EmailID   uuid.UUID `db:"email_id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Size      int64     `db:"size"`
	CreatedAt time.Time `db:"created_at"`
}

// EmailSummary is the lightweight row shape used for mailbox list views
type EmailSummary struct {
	ID             uuid.UUID `db:"id"`
	FromAddress    string    `db:"from_address"`
	Subject        string    `db:"subject"`
	BodyText       string    `db:"body_text"`
	ReceivedAt     int64     `db:"received_at"`
	HasAttachments bool      `db:"has_attachments"`
}

// PageKey is the sort-key tuple a list query resumes after
type PageKey struct {
	ReceivedAt int64
	ID         uuid.UUID
}

// BlobRef identifies one attachment blob by its owning email and attachment ids
type BlobRef struct {
	EmailID      uuid.UUID `db:"email_id"`
	AttachmentID uuid.UUID `db:"id"`
}
