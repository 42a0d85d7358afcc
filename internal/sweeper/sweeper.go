// Package sweeper removes emails together with their blobs. All three
// triggers (single email, whole mailbox, retention expiry) share one
// deletion order: blob references are resolved first, then metadata rows go
// in one cascading delete, then blobs are removed best-effort. A crash
// between the two halves can orphan blobs but never leaves metadata pointing
// at content a client could still list.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/metrics"
	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/storage"
)

// EmailStore is the email persistence the sweeper needs
type EmailStore interface {
	IDsByRecipient(ctx context.Context, address string) ([]uuid.UUID, error)
	IDsReceivedBefore(ctx context.Context, cutoff int64) ([]uuid.UUID, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int, error)
}

// AttachmentStore is the attachment metadata persistence the sweeper needs
type AttachmentStore interface {
	RefsByEmailIDs(ctx context.Context, emailIDs []uuid.UUID) ([]repository.BlobRef, error)
}

// BlobStore is the blob persistence the sweeper needs
type BlobStore interface {
	DeleteMany(ctx context.Context, keys []string) (int, error)
}

// Sweeper deletes emails and their attachment blobs
type Sweeper struct {
	emails      EmailStore
	attachments AttachmentStore
	blobs       BlobStore
	retention   time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a sweeper. retention is the age beyond which SweepExpired
// removes emails.
func New(emails EmailStore, attachments AttachmentStore, blobs BlobStore, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		emails:      emails,
		attachments: attachments,
		blobs:       blobs,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// DeleteByID removes a single email. Returns false when the id does not
// exist; the call is otherwise idempotent.
func (s *Sweeper) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted, err := s.sweep(ctx, []uuid.UUID{id}, "id")
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// DeleteMailbox removes every email addressed to the given recipient and
// returns the number removed. An empty mailbox short-circuits without
// touching either store.
func (s *Sweeper) DeleteMailbox(ctx context.Context, address string) (int, error) {
	ids, err := s.emails.IDsByRecipient(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve mailbox %s: %w", address, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.sweep(ctx, ids, "mailbox")
	if err != nil {
		return 0, err
	}

	s.logger.Info("mailbox deleted", "address", address, "emails", deleted)
	return deleted, nil
}

// SweepExpired removes every email older than the retention window and
// returns the number removed. An email received exactly at the cutoff is
// kept.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	cutoff := s.now().Add(-s.retention).UnixMilli()
	ids, err := s.emails.IDsReceivedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve expired emails: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.sweep(ctx, ids, "retention")
	if err != nil {
		return 0, err
	}

	s.logger.Info("retention sweep finished",
		"emails", deleted,
		"cutoff", cutoff,
		"duration", time.Since(start),
	)
	return deleted, nil
}

// sweep deletes the given emails: blob refs first, metadata rows second,
// blobs last. Blob deletion failures are logged and counted but never fail
// the sweep; the metadata rows are already gone.
func (s *Sweeper) sweep(ctx context.Context, ids []uuid.UUID, trigger string) (int, error) {
	refs, err := s.attachments.RefsByEmailIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve blob refs: %w", err)
	}

	deleted, err := s.emails.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete emails: %w", err)
	}
	metrics.EmailsDeleted.WithLabelValues(trigger).Add(float64(deleted))

	if len(refs) > 0 {
		keys := make([]string, len(refs))
		for i, ref := range refs {
			keys[i] = storage.ObjectKey(ref.EmailID, ref.AttachmentID)
		}

		removed, err := s.blobs.DeleteMany(ctx, keys)
		if err != nil || removed < len(keys) {
			failed := len(keys) - removed
			metrics.BlobDeleteFailures.Add(float64(failed))
			s.logger.Error("blob deletion incomplete",
				"trigger", trigger,
				"failed", failed,
				"total", len(keys),
				"error", err,
			)
		}
	}

	return deleted, nil
}
