package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
	"github.com/swipeapply/applyd/internal/storage"
)

const testToken = "test-token-12345"

type okRunner struct{}

func (okRunner) Apply(ctx context.Context, rec queue.Record) queue.Outcome {
	return queue.Outcome{OK: true, SuccessText: "Thank you for applying"}
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q, err := queue.New(store)
	if err != nil {
		t.Fatalf("queue.New failed: %v", err)
	}

	handler := NewAppHandler(AppDeps{
		Queue:    q,
		Drainer:  queue.NewDrainer(q, okRunner{}, 0, nil),
		Profile:  profile.NewManager(store),
		Attempts: store,
		Token:    token,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func enqueueJob(t *testing.T, h http.Handler, jobID string) queue.Record {
	t.Helper()
	body := `{"job_id":"` + jobID + `","title":"Backend Engineer","company":"Acme","apply_url":"https://jobs.acme.test/1/apply"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var rec queue.Record
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}
	return rec
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestQueue_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue", "", ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestQueue_WrongToken(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue", "", "not-the-token"))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestEnqueue_CreatesQueuedRecord(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rec := enqueueJob(t, h, "job-1")
	if rec.Status != queue.StatusQueued {
		t.Errorf("status = %q, want %q", rec.Status, queue.StatusQueued)
	}
	if rec.Job.Company != "Acme" {
		t.Errorf("company = %q, want %q", rec.Job.Company, "Acme")
	}
	if rec.Profile == nil {
		t.Error("record missing profile snapshot")
	}
}

func TestEnqueue_MissingJobID(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue", `{"apply_url":"https://x.test"}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestEnqueue_MissingApplyURL(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue", `{"job_id":"job-1"}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestEnqueue_AlreadyApplied(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	enqueueJob(t, h, "job-1")
	if err := store.MarkApplying("job-1"); err != nil {
		t.Fatalf("MarkApplying: %v", err)
	}
	if err := store.MarkApplied("job-1"); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}

	body := `{"job_id":"job-1","apply_url":"https://jobs.acme.test/1/apply"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue", body, testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	// force bypasses the skip list and re-queues.
	body = `{"job_id":"job-1","apply_url":"https://jobs.acme.test/1/apply","force":true}`
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("forced status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
}

func TestListQueue_Empty(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/nonexistent", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestNextEligible(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/next", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("empty queue status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	enqueueJob(t, h, "job-1")
	enqueueJob(t, h, "job-2")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/next", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var rec queue.Record
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.JobID != "job-1" {
		t.Errorf("next = %q, want %q", rec.JobID, "job-1")
	}
}

func TestPatchRecord(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	enqueueJob(t, h, "job-1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/queue/job-1", `{"title":"Staff Engineer"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var rec queue.Record
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.Job.Title != "Staff Engineer" {
		t.Errorf("title = %q, want updated", rec.Job.Title)
	}
	if rec.Job.Company != "Acme" {
		t.Errorf("company = %q, want original value kept", rec.Job.Company)
	}
	if rec.Status != queue.StatusQueued {
		t.Errorf("status = %q, metadata patch must not change status", rec.Status)
	}
}

func TestPatchRecord_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/queue/nonexistent", `{"title":"x"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRemoveRecord(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	enqueueJob(t, h, "job-1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/queue/job-1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/job-1", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status after remove = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRetry_NotFailed(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	enqueueJob(t, h, "job-1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/job-1/retry", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusConflict, rr.Body.String())
	}
}

func TestRetry_FailedRecord(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	enqueueJob(t, h, "job-1")
	if err := store.MarkApplying("job-1"); err != nil {
		t.Fatalf("MarkApplying: %v", err)
	}
	if err := store.MarkFailed("job-1", "form validation failed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/job-1/retry", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var rec queue.Record
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.Status != queue.StatusQueued {
		t.Errorf("status = %q, want %q", rec.Status, queue.StatusQueued)
	}
	if rec.Error != "" {
		t.Errorf("error = %q, want cleared", rec.Error)
	}
}

func TestRetry_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/nonexistent/retry", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAutoDrain_RoundTrip(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/autodrain", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp map[string]bool
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["enabled"] {
		t.Error("auto-drain enabled by default")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/queue/autodrain", `{"enabled":true}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/queue/autodrain", "", testToken))
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp["enabled"] {
		t.Error("auto-drain not persisted")
	}
}

func TestPatchProfile(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/profile", `{"identity.email":"pat@example.com"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profile", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rr.Code, http.StatusOK)
	}

	var p profile.Profile
	json.NewDecoder(rr.Body).Decode(&p)
	if p.Email != "pat@example.com" {
		t.Errorf("email = %q, want %q", p.Email, "pat@example.com")
	}
}

func TestPatchProfile_UnknownKey(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/profile", `{"identity.shoe_size":"11"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListAttempts_Empty(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/attempts?limit=5", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestDrain_Accepted(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/queue/drain", "", testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}
