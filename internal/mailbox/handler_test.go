package mailbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/sanitizer"
)

type fakeDeleter struct {
	deletedIDs     []uuid.UUID
	deletedBoxes   []string
	deleteByIDHit  bool
	mailboxDeleted int
	exists         bool
}

func (f *fakeDeleter) DeleteByID(_ context.Context, id uuid.UUID) (bool, error) {
	f.deleteByIDHit = true
	f.deletedIDs = append(f.deletedIDs, id)
	return f.exists, nil
}

func (f *fakeDeleter) DeleteMailbox(_ context.Context, address string) (int, error) {
	f.deletedBoxes = append(f.deletedBoxes, address)
	return f.mailboxDeleted, nil
}

func newTestRouter(emails *fakeEmailStore, deleter *fakeDeleter) *chi.Mux {
	svc := NewService(emails, newFakeAttachmentStore(), newFakeBlobStore(), sanitizer.NewHTMLSanitizer(), nil)
	handler := NewHandler(svc, deleter, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, handler)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
	}
	return rec, body
}

func TestListEndpoint(t *testing.T) {
	emails := newFakeEmailStore()
	seedMailbox(emails, "alice@drift.test", 2)
	router := newTestRouter(emails, &fakeDeleter{})

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/mailboxes/alice@drift.test/emails")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !body.Success {
		t.Errorf("Success = false: %+v", body.Error)
	}
}

func TestListEndpoint_InvalidAddress(t *testing.T) {
	emails := newFakeEmailStore()
	router := newTestRouter(emails, &fakeDeleter{})

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/mailboxes/not-an-address/emails")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body.Error == nil || body.Error.Code != "INVALID_ADDRESS" {
		t.Errorf("error = %+v, want INVALID_ADDRESS", body.Error)
	}
	// Validation rejects before any store access
	if emails.lastLimit != 0 {
		t.Error("store was queried for an invalid address")
	}
}

func TestGetEmailEndpoint_InvalidID(t *testing.T) {
	router := newTestRouter(newFakeEmailStore(), &fakeDeleter{})

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/emails/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body.Error == nil || body.Error.Code != "INVALID_ID" {
		t.Errorf("error = %+v, want INVALID_ID", body.Error)
	}
}

func TestGetEmailEndpoint_NotFound(t *testing.T) {
	router := newTestRouter(newFakeEmailStore(), &fakeDeleter{})

	rec, body := doRequest(t, router, http.MethodGet, "/api/v1/emails/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body.Error == nil || body.Error.Code != "EMAIL_NOT_FOUND" {
		t.Errorf("error = %+v, want EMAIL_NOT_FOUND", body.Error)
	}
}

func TestDeleteEmailEndpoint(t *testing.T) {
	t.Run("existing email returns 204", func(t *testing.T) {
		deleter := &fakeDeleter{exists: true}
		router := newTestRouter(newFakeEmailStore(), deleter)

		rec, _ := doRequest(t, router, http.MethodDelete, "/api/v1/emails/"+uuid.NewString())
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if len(deleter.deletedIDs) != 1 {
			t.Errorf("deleter saw %d ids, want 1", len(deleter.deletedIDs))
		}
	})

	t.Run("unknown email returns 404", func(t *testing.T) {
		deleter := &fakeDeleter{exists: false}
		router := newTestRouter(newFakeEmailStore(), deleter)

		rec, body := doRequest(t, router, http.MethodDelete, "/api/v1/emails/"+uuid.NewString())
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if body.Error == nil || body.Error.Code != "EMAIL_NOT_FOUND" {
			t.Errorf("error = %+v, want EMAIL_NOT_FOUND", body.Error)
		}
	})

	t.Run("invalid id never reaches the deleter", func(t *testing.T) {
		deleter := &fakeDeleter{exists: true}
		router := newTestRouter(newFakeEmailStore(), deleter)

		rec, _ := doRequest(t, router, http.MethodDelete, "/api/v1/emails/banana")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if deleter.deleteByIDHit {
			t.Error("deleter was called for an invalid id")
		}
	})
}

func TestDeleteMailboxEndpoint(t *testing.T) {
	deleter := &fakeDeleter{mailboxDeleted: 3}
	router := newTestRouter(newFakeEmailStore(), deleter)

	rec, body := doRequest(t, router, http.MethodDelete, "/api/v1/mailboxes/bob@drift.test")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !body.Success {
		t.Fatalf("Success = false: %+v", body.Error)
	}
	if len(deleter.deletedBoxes) != 1 || deleter.deletedBoxes[0] != "bob@drift.test" {
		t.Errorf("deleter saw %v", deleter.deletedBoxes)
	}

	data, _ := json.Marshal(body.Data)
	var payload struct {
		Deleted int `json:"deleted"`
	}
	json.Unmarshal(data, &payload)
	if payload.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", payload.Deleted)
	}
}

func TestDownloadAttachmentEndpoint_InvalidAttachmentID(t *testing.T) {
	router := newTestRouter(newFakeEmailStore(), &fakeDeleter{})

	rec, body := doRequest(t, router, http.MethodGet,
		"/api/v1/emails/"+uuid.NewString()+"/attachments/nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body.Error == nil || body.Error.Code != "INVALID_ID" {
		t.Errorf("error = %+v, want INVALID_ID", body.Error)
	}
}
