package mailbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"github.com/driftmail/driftmail/internal/repository"
	"github.com/driftmail/driftmail/internal/sanitizer"
	"github.com/driftmail/driftmail/internal/storage"
)

// fakeEmailStore mimics the repository's keyset semantics in memory: rows are
// kept in (received_at DESC, id DESC) order and the after key filters with a
// strict tuple comparison.
type fakeEmailStore struct {
	byAddress map[string][]repository.EmailSummary
	byID      map[uuid.UUID]*repository.Email
	lastLimit int
}

func newFakeEmailStore() *fakeEmailStore {
	return &fakeEmailStore{
		byAddress: make(map[string][]repository.EmailSummary),
		byID:      make(map[uuid.UUID]*repository.Email),
	}
}

func (f *fakeEmailStore) add(address string, summary repository.EmailSummary) {
	f.byAddress[address] = append(f.byAddress[address], summary)
	rows := f.byAddress[address]
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ReceivedAt != rows[j].ReceivedAt {
			return rows[i].ReceivedAt > rows[j].ReceivedAt
		}
		return bytes.Compare(rows[i].ID[:], rows[j].ID[:]) > 0
	})
}

func (f *fakeEmailStore) ListByRecipient(_ context.Context, address string, limit int, after *repository.PageKey) ([]repository.EmailSummary, error) {
	f.lastLimit = limit
	var out []repository.EmailSummary
	for _, row := range f.byAddress[address] {
		if after != nil {
			below := row.ReceivedAt < after.ReceivedAt ||
				(row.ReceivedAt == after.ReceivedAt && bytes.Compare(row.ID[:], after.ID[:]) < 0)
			if !below {
				continue
			}
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEmailStore) CountByRecipient(_ context.Context, address string) (int, error) {
	return len(f.byAddress[address]), nil
}

func (f *fakeEmailStore) GetByID(_ context.Context, id uuid.UUID) (*repository.Email, error) {
	email, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrEmailNotFound
	}
	return email, nil
}

type fakeAttachmentStore struct {
	byID      map[uuid.UUID]*repository.Attachment
	byEmailID map[uuid.UUID][]*repository.Attachment
}

func newFakeAttachmentStore() *fakeAttachmentStore {
	return &fakeAttachmentStore{
		byID:      make(map[uuid.UUID]*repository.Attachment),
		byEmailID: make(map[uuid.UUID][]*repository.Attachment),
	}
}

func (f *fakeAttachmentStore) add(att *repository.Attachment) {
	f.byID[att.ID] = att
	f.byEmailID[att.EmailID] = append(f.byEmailID[att.EmailID], att)
}

func (f *fakeAttachmentStore) GetByID(_ context.Context, id uuid.UUID) (*repository.Attachment, error) {
	return f.byID[id], nil
}

func (f *fakeAttachmentStore) GetByEmailID(_ context.Context, emailID uuid.UUID) ([]*repository.Attachment, error) {
	return f.byEmailID[emailID], nil
}

type fakeBlobStore struct {
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Get(_ context.Context, key string) (*storage.Object, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.Object{
		Body: io.NopCloser(bytes.NewReader(content)),
		Size: int64(len(content)),
	}, nil
}

func newTestService(emails *fakeEmailStore, attachments *fakeAttachmentStore, blobs *fakeBlobStore) *Service {
	return NewService(emails, attachments, blobs, sanitizer.NewHTMLSanitizer(), nil)
}

func seedMailbox(emails *fakeEmailStore, address string, count int) []uuid.UUID {
	ids := make([]uuid.UUID, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		ids[i] = id
		emails.add(address, repository.EmailSummary{
			ID:          id,
			FromAddress: "sender@example.com",
			Subject:     "subject",
			BodyText:    "body",
			ReceivedAt:  int64(1000 + i),
		})
	}
	return ids
}

func TestList_LimitClamping(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantProbe int // limit handed to the store is the effective limit + 1
	}{
		{"zero defaults to 20", 0, 21},
		{"negative defaults to 20", -5, 21},
		{"in range passes through", 50, 51},
		{"over max clamps to 100", 250, 101},
		{"minimum stays at 1", 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emails := newFakeEmailStore()
			svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

			if _, err := svc.List(context.Background(), "a@drift.test", tt.limit, ""); err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if emails.lastLimit != tt.wantProbe {
				t.Errorf("store saw limit %d, want %d", emails.lastLimit, tt.wantProbe)
			}
		})
	}
}

func TestList_PaginationWindow(t *testing.T) {
	emails := newFakeEmailStore()
	svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

	const address = "alice@drift.test"
	seedMailbox(emails, address, 5)

	first, err := svc.List(context.Background(), address, 3, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(first.Emails) != 3 {
		t.Fatalf("first page has %d emails, want 3", len(first.Emails))
	}
	if first.Total != 5 {
		t.Errorf("first page Total = %d, want 5", first.Total)
	}
	if first.NextCursor == "" {
		t.Fatal("first page NextCursor is empty, want a cursor")
	}

	second, err := svc.List(context.Background(), address, 3, first.NextCursor)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(second.Emails) != 2 {
		t.Fatalf("second page has %d emails, want 2", len(second.Emails))
	}
	if second.NextCursor != "" {
		t.Errorf("last page NextCursor = %q, want empty", second.NextCursor)
	}
	if second.Total != 5 {
		t.Errorf("second page Total = %d, want 5", second.Total)
	}

	// Newest first across the whole walk, no overlap between pages
	seen := make(map[string]bool)
	var prev int64 = 1 << 62
	for _, e := range append(first.Emails, second.Emails...) {
		if seen[e.ID] {
			t.Errorf("email %s appeared on two pages", e.ID)
		}
		seen[e.ID] = true
		if e.ReceivedAt > prev {
			t.Errorf("emails out of order: %d after %d", e.ReceivedAt, prev)
		}
		prev = e.ReceivedAt
	}
}

func TestList_ExactPageBoundary(t *testing.T) {
	emails := newFakeEmailStore()
	svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

	const address = "bob@drift.test"
	seedMailbox(emails, address, 3)

	// Mailbox size equals the limit: one full page, no next cursor
	page, err := svc.List(context.Background(), address, 3, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Emails) != 3 {
		t.Fatalf("page has %d emails, want 3", len(page.Emails))
	}
	if page.NextCursor != "" {
		t.Errorf("NextCursor = %q for an exactly-full last page, want empty", page.NextCursor)
	}
}

func TestList_MalformedCursorFallsBackToFirstPage(t *testing.T) {
	emails := newFakeEmailStore()
	svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

	const address = "carol@drift.test"
	seedMailbox(emails, address, 4)

	clean, err := svc.List(context.Background(), address, 10, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	garbled, err := svc.List(context.Background(), address, 10, "not_a-cursor")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(garbled.Emails) != len(clean.Emails) {
		t.Fatalf("malformed cursor returned %d emails, first page has %d", len(garbled.Emails), len(clean.Emails))
	}
	for i := range clean.Emails {
		if garbled.Emails[i].ID != clean.Emails[i].ID {
			t.Errorf("malformed cursor page differs from first page at %d", i)
		}
	}
}

func TestList_EmptyMailbox(t *testing.T) {
	svc := newTestService(newFakeEmailStore(), newFakeAttachmentStore(), newFakeBlobStore())

	page, err := svc.List(context.Background(), "nobody@drift.test", 20, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Emails) != 0 || page.Total != 0 || page.NextCursor != "" {
		t.Errorf("empty mailbox page = %+v, want empty", page)
	}
}

func TestList_Preview(t *testing.T) {
	emails := newFakeEmailStore()
	svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

	const address = "dave@drift.test"
	long := strings.Repeat("é", 150)
	emails.add(address, repository.EmailSummary{
		ID:         uuid.New(),
		BodyText:   long,
		ReceivedAt: 2000,
	})
	emails.add(address, repository.EmailSummary{
		ID:         uuid.New(),
		BodyText:   "short body",
		ReceivedAt: 1000,
	})

	page, err := svc.List(context.Background(), address, 10, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if got := page.Emails[0].Preview; got != strings.Repeat("é", 100) {
		t.Errorf("long preview = %d runes, want first 100 runes intact", len([]rune(got)))
	}
	if got := page.Emails[1].Preview; got != "short body" {
		t.Errorf("short preview = %q, want body unchanged", got)
	}
}

// Walking the mailbox page by page visits every email exactly once, in
// strict (receivedAt DESC, id DESC) order, and the concatenation equals the
// unpaged sorted set — for any mailbox size and page limit. Timestamps are
// drawn from a small range so same-millisecond ties exercise the id
// tie-break.
func TestList_FullWalk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		emails := newFakeEmailStore()
		svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

		const address = "walk@drift.test"
		size := rapid.IntRange(0, 40).Draw(t, "size")
		limit := rapid.IntRange(1, 7).Draw(t, "limit")
		for i := 0; i < size; i++ {
			emails.add(address, repository.EmailSummary{
				ID:         uuid.New(),
				ReceivedAt: rapid.Int64Range(1000, 1010).Draw(t, "receivedAt"),
			})
		}

		var walked []EmailSummaryDTO
		cursor := ""
		for {
			page, err := svc.List(context.Background(), address, limit, cursor)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != size {
				t.Fatalf("Total = %d, want %d", page.Total, size)
			}
			walked = append(walked, page.Emails...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}

		if len(walked) != size {
			t.Fatalf("walk visited %d emails, mailbox has %d", len(walked), size)
		}

		// Strictly decreasing sort-key tuples across page boundaries
		for i := 1; i < len(walked); i++ {
			prev, cur := walked[i-1], walked[i]
			if cur.ReceivedAt > prev.ReceivedAt ||
				(cur.ReceivedAt == prev.ReceivedAt && cur.ID >= prev.ID) {
				t.Fatalf("walk not in strict (receivedAt DESC, id DESC) order at %d: (%d, %s) after (%d, %s)",
					i, cur.ReceivedAt, cur.ID, prev.ReceivedAt, prev.ID)
			}
		}

		// Concatenation equals the unpaged query in the same order
		unpaged := emails.byAddress[address]
		for i := range walked {
			if walked[i].ID != unpaged[i].ID.String() {
				t.Fatalf("walked[%d] = %s, unpaged[%d] = %s", i, walked[i].ID, i, unpaged[i].ID)
			}
		}
	})
}

func TestGetByID_SanitizesHTML(t *testing.T) {
	emails := newFakeEmailStore()
	svc := newTestService(emails, newFakeAttachmentStore(), newFakeBlobStore())

	id := uuid.New()
	emails.byID[id] = &repository.Email{
		ID:          id,
		FromAddress: "sender@example.com",
		Subject:     "hi",
		BodyText:    "plain",
		BodyHTML:    `<p>safe</p><script>alert("x")</script>`,
		ReceivedAt:  1234,
	}

	detail, err := svc.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if strings.Contains(detail.BodyHTML, "script") {
		t.Errorf("BodyHTML still contains script: %q", detail.BodyHTML)
	}
	if !strings.Contains(detail.BodyHTML, "<p>safe</p>") {
		t.Errorf("BodyHTML lost safe markup: %q", detail.BodyHTML)
	}
	if detail.Attachments == nil || len(detail.Attachments) != 0 {
		t.Errorf("Attachments = %v, want empty non-nil slice", detail.Attachments)
	}
}

func TestGetByID_IncludesAttachments(t *testing.T) {
	emails := newFakeEmailStore()
	attachments := newFakeAttachmentStore()
	svc := newTestService(emails, attachments, newFakeBlobStore())

	id := uuid.New()
	emails.byID[id] = &repository.Email{ID: id, HasAttachments: true}
	attachments.add(&repository.Attachment{
		ID:      uuid.New(),
		EmailID: id,
		Name:    "doc.pdf",
		Type:    "application/pdf",
		Size:    512,
	})

	detail, err := svc.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(detail.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(detail.Attachments))
	}
	if detail.Attachments[0].Name != "doc.pdf" || detail.Attachments[0].Size != 512 {
		t.Errorf("attachment = %+v", detail.Attachments[0])
	}
}

func TestGetByID_NotFound(t *testing.T) {
	svc := newTestService(newFakeEmailStore(), newFakeAttachmentStore(), newFakeBlobStore())

	_, err := svc.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrEmailNotFound) {
		t.Errorf("GetByID() error = %v, want ErrEmailNotFound", err)
	}
}

func TestGetAttachment(t *testing.T) {
	emails := newFakeEmailStore()
	attachments := newFakeAttachmentStore()
	blobs := newFakeBlobStore()
	svc := newTestService(emails, attachments, blobs)

	emailID := uuid.New()
	attachmentID := uuid.New()
	attachments.add(&repository.Attachment{
		ID:      attachmentID,
		EmailID: emailID,
		Name:    "notes.txt",
		Type:    "text/plain",
		Size:    5,
	})
	blobs.objects[storage.ObjectKey(emailID, attachmentID)] = []byte("hello")

	t.Run("success", func(t *testing.T) {
		download, err := svc.GetAttachment(context.Background(), emailID, attachmentID)
		if err != nil {
			t.Fatalf("GetAttachment() error = %v", err)
		}
		defer download.Body.Close()

		content, _ := io.ReadAll(download.Body)
		if string(content) != "hello" {
			t.Errorf("content = %q, want %q", content, "hello")
		}
		if download.ContentType != "text/plain" || download.Name != "notes.txt" {
			t.Errorf("download = %+v", download)
		}
	})

	t.Run("unknown attachment id", func(t *testing.T) {
		_, err := svc.GetAttachment(context.Background(), emailID, uuid.New())
		if !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("error = %v, want ErrAttachmentNotFound", err)
		}
	})

	t.Run("attachment of another email", func(t *testing.T) {
		_, err := svc.GetAttachment(context.Background(), uuid.New(), attachmentID)
		if !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("error = %v, want ErrAttachmentNotFound", err)
		}
	})

	t.Run("metadata without blob", func(t *testing.T) {
		orphanID := uuid.New()
		attachments.add(&repository.Attachment{ID: orphanID, EmailID: emailID, Name: "gone.bin"})

		_, err := svc.GetAttachment(context.Background(), emailID, orphanID)
		if !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("error = %v, want ErrAttachmentNotFound", err)
		}
	})
}
