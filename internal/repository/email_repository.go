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

// Email repository errors
var (
	ErrEmailNotFound = errors.New("email not found")
)

// EmailRepo implements email persistence using PostgreSQL
type EmailRepo struct {
	db *sqlx.DB
}

// NewEmailRepo creates a new EmailRepo instance
func NewEmailRepo(db *sqlx.DB) *EmailRepo {
	return &EmailRepo{db: db}
}

// CreateWithRecipients inserts an email and all of its recipient rows in a
// single transaction. The database assigns received_at (epoch milliseconds,
// clock_timestamp so concurrent inserts in one transaction still advance);
// the assigned value is written back into email.ReceivedAt.
func (r *EmailRepo) CreateWithRecipients(ctx context.Context, email *Email, recipients []string) error {
	defer metrics.TimeQuery("create_email")()

	if len(recipients) == 0 {
		return fmt.Errorf("email %s has no recipients", email.ID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	emailQuery := `
		INSERT INTO emails (id, from_address, subject, body_text, body_html, received_at, has_attachments)
		VALUES ($1, $2, $3, $4, $5, (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT, $6)
		RETURNING received_at
	`
	err = tx.QueryRowContext(ctx, emailQuery,
		email.ID,
		email.FromAddress,
		email.Subject,
		email.BodyText,
		email.BodyHTML,
		email.HasAttachments,
	).Scan(&email.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}

	recipientQuery := `INSERT INTO email_recipients (email_id, address) VALUES ($1, $2)`
	for _, address := range recipients {
		if _, err := tx.ExecContext(ctx, recipientQuery, email.ID, address); err != nil {
			return fmt.Errorf("failed to create recipient %s: %w", address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an email by its ID
func (r *EmailRepo) GetByID(ctx context.Context, id uuid.UUID) (*Email, error) {
	defer metrics.TimeQuery("get_email")()

	query := `
		SELECT id, from_address, subject, body_text, body_html, received_at, has_attachments
		FROM emails
		WHERE id = $1
	`

	var email Email
	err := r.db.GetContext(ctx, &email, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmailNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	return &email, nil
}

// ListByRecipient returns up to limit summaries for a recipient address in
// (received_at DESC, id DESC) order. When after is non-nil, only rows with a
// sort key strictly below it are returned; the caller passes limit+1 to probe
// for a further page.
func (r *EmailRepo) ListByRecipient(ctx context.Context, address string, limit int, after *PageKey) ([]EmailSummary, error) {
	defer metrics.TimeQuery("list_emails")()

	query := `
		SELECT e.id, e.from_address, e.subject, e.body_text, e.received_at, e.has_attachments
		FROM emails e
		JOIN email_recipients r ON r.email_id = e.id
		WHERE r.address = $1
	`
	args := []interface{}{address}

	if after != nil {
		query += ` AND (e.received_at, e.id) < ($2, $3)`
		args = append(args, after.ReceivedAt, after.ID)
	}

	query += fmt.Sprintf(` ORDER BY e.received_at DESC, e.id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var summaries []EmailSummary
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	return summaries, nil
}

// CountByRecipient returns the exact number of emails addressed to a recipient
func (r *EmailRepo) CountByRecipient(ctx context.Context, address string) (int, error) {
	defer metrics.TimeQuery("count_emails")()

	query := `
		SELECT COUNT(*)
		FROM emails e
		JOIN email_recipients r ON r.email_id = e.id
		WHERE r.address = $1
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, address); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}

	return count, nil
}

// IDsByRecipient resolves all email ids addressed to a recipient
func (r *EmailRepo) IDsByRecipient(ctx context.Context, address string) ([]uuid.UUID, error) {
	defer metrics.TimeQuery("ids_by_recipient")()

	query := `SELECT e.id FROM emails e JOIN email_recipients r ON r.email_id = e.id WHERE r.address = $1`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, address); err != nil {
		return nil, fmt.Errorf("failed to resolve email ids: %w", err)
	}

	return ids, nil
}

// IDsReceivedBefore resolves all email ids with received_at strictly below
// the cutoff (epoch milliseconds)
func (r *EmailRepo) IDsReceivedBefore(ctx context.Context, cutoff int64) ([]uuid.UUID, error) {
	defer metrics.TimeQuery("ids_received_before")()

	query := `SELECT id FROM emails WHERE received_at < $1`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to resolve expired email ids: %w", err)
	}

	return ids, nil
}

// DeleteByIDs deletes emails by id; recipient and attachment rows go with
// them via ON DELETE CASCADE. Returns the number of email rows deleted.
func (r *EmailRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	defer metrics.TimeQuery("delete_emails")()

	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM emails WHERE id IN (%s)", strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete emails: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// SetHasAttachments updates the denormalized has_attachments flag. Used only
// by the ingestion tail's fix-up when attachment persistence failed entirely.
func (r *EmailRepo) SetHasAttachments(ctx context.Context, id uuid.UUID, has bool) error {
	defer metrics.TimeQuery("set_has_attachments")()

	query := `UPDATE emails SET has_attachments = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, has)
	if err != nil {
		return fmt.Errorf("failed to update has_attachments: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEmailNotFound
	}

	return nil
}
