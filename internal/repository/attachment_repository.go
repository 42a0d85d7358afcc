package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftmail/driftmail/internal/metrics"
)

// AttachmentRepository handles attachment metadata database operations
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts a single attachment metadata row
func (r *AttachmentRepository) Create(ctx context.Context, attachment *Attachment) error {
	defer metrics.TimeQuery("create_attachment")()

	query := `
		INSERT INTO attachments (id, email_id, name, type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		attachment.ID,
		attachment.EmailID,
		attachment.Name,
		attachment.Type,
		attachment.Size,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	return nil
}

// CreateBatch inserts multiple attachment rows in a single transaction
func (r *AttachmentRepository) CreateBatch(ctx context.Context, attachments []*Attachment) error {
	defer metrics.TimeQuery("create_attachments")()

	if len(attachments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attachments (id, email_id, name, type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	for _, attachment := range attachments {
		_, err := tx.ExecContext(ctx, query,
			attachment.ID,
			attachment.EmailID,
			attachment.Name,
			attachment.Type,
			attachment.Size,
		)
		if err != nil {
			return fmt.Errorf("failed to create attachment %s: %w", attachment.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an attachment by its ID. Returns (nil, nil) when absent.
func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	defer metrics.TimeQuery("get_attachment")()

	query := `
		SELECT id, email_id, name, type, size, created_at
		FROM attachments
		WHERE id = $1
	`

	var attachment Attachment
	err := r.db.GetContext(ctx, &attachment, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return &attachment, nil
}

// GetByEmailID retrieves all attachments for an email, oldest first
func (r *AttachmentRepository) GetByEmailID(ctx context.Context, emailID uuid.UUID) ([]*Attachment, error) {
	defer metrics.TimeQuery("get_attachments_by_email")()

	query := `
		SELECT id, email_id, name, type, size, created_at
		FROM attachments
		WHERE email_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var attachments []*Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, emailID); err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}

	return attachments, nil
}

// RefsByEmailIDs resolves the (email_id, attachment_id) pairs for all
// attachments of the given emails; blob object keys derive from these.
func (r *AttachmentRepository) RefsByEmailIDs(ctx context.Context, emailIDs []uuid.UUID) ([]BlobRef, error) {
	defer metrics.TimeQuery("attachment_refs")()

	if len(emailIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(emailIDs))
	args := make([]interface{}, len(emailIDs))
	for i, id := range emailIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT email_id, id FROM attachments WHERE email_id IN (%s)",
		strings.Join(placeholders, ", "),
	)

	var refs []BlobRef
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to resolve attachment refs: %w", err)
	}

	return refs, nil
}

// DeleteByEmailID deletes all attachment rows for an email
func (r *AttachmentRepository) DeleteByEmailID(ctx context.Context, emailID uuid.UUID) (int64, error) {
	defer metrics.TimeQuery("delete_attachments_by_email")()

	query := `DELETE FROM attachments WHERE email_id = $1`

	result, err := r.db.ExecContext(ctx, query, emailID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attachments: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
