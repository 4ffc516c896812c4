package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
	"github.com/swipeapply/applyd/internal/storage"
)

// EnqueueRequest is the body of POST /queue.
type EnqueueRequest struct {
	JobID    string `json:"job_id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	ApplyURL string `json:"apply_url"`
	Force    bool   `json:"force"`
}

// AttemptLister abstracts attempt-history reads for the API layer.
type AttemptLister interface {
	ListAttempts(limit int) ([]storage.Attempt, error)
}

type AppDeps struct {
	Queue    *queue.Queue
	Drainer  *queue.Drainer
	Profile  *profile.Manager
	Attempts AttemptLister
	Token    string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/queue", handleEnqueue(deps))
		r.Get("/queue", handleListQueue(deps))
		r.Get("/queue/next", handleNextEligible(deps))
		r.Post("/queue/drain", handleDrain(deps))
		r.Get("/queue/autodrain", handleGetAutoDrain(deps))
		r.Put("/queue/autodrain", handleSetAutoDrain(deps))
		r.Get("/queue/{jobID}", handleGetRecord(deps))
		r.Patch("/queue/{jobID}", handlePatchRecord(deps))
		r.Delete("/queue/{jobID}", handleRemoveRecord(deps))
		r.Post("/queue/{jobID}/retry", handleRetryRecord(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Put("/profile", handlePutProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
		r.Get("/attempts", handleListAttempts(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleEnqueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.JobID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job_id is required")
			return
		}
		if req.ApplyURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "apply_url is required")
			return
		}

		if !req.Force {
			applied, err := deps.Queue.HasApplied(req.JobID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to check applied list: %v", err)
				return
			}
			if applied {
				httpError(w, http.StatusConflict, "conflict", "already applied to job %s", req.JobID)
				return
			}
		}

		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}

		job := queue.Job{Title: req.Title, Company: req.Company, ApplyURL: req.ApplyURL}
		if err := deps.Queue.Enqueue(req.JobID, job, &p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue: %v", err)
			return
		}

		rec, err := deps.Queue.Get(req.JobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read back record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(rec)
	}
}

func handleListQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Queue.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queue: %v", err)
			return
		}

		if records == nil {
			records = []queue.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleNextEligible(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Queue.NextEligible()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to select next record: %v", err)
			return
		}
		if rec == nil {
			httpError(w, http.StatusNotFound, "not_found", "no eligible application")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleGetRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		rec, err := deps.Queue.Get(jobID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "application not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handlePatchRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title    string `json:"title"`
			Company  string `json:"company"`
			ApplyURL string `json:"apply_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		job := queue.Job{Title: req.Title, Company: req.Company, ApplyURL: req.ApplyURL}
		err := deps.Queue.UpdateJob(jobID, job)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "application not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update record: %v", err)
			return
		}

		rec, err := deps.Queue.Get(jobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read back record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleRemoveRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		err := deps.Queue.Remove(jobID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "application not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
	}
}

func handleRetryRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		err := deps.Queue.Retry(jobID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "application not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict", "application %s is not in a retryable state", jobID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry: %v", err)
			return
		}

		rec, err := deps.Queue.Get(jobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read back record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleDrain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The drain outlives the request. The drainer's own lock makes a
		// second trigger a no-op while one is in flight.
		go deps.Drainer.Drain(context.WithoutCancel(r.Context()))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "draining"})
	}
}

func handleGetAutoDrain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := deps.Queue.AutoDrain()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read auto-drain: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"enabled": on})
	}
}

func handleSetAutoDrain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Queue.SetAutoDrain(req.Enabled); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set auto-drain: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"enabled": req.Enabled})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handlePutProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var p profile.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Profile.Set(&p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set field %q: %v", key, err)
				return
			}
		}

		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handleListAttempts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		attempts, err := deps.Attempts.ListAttempts(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list attempts: %v", err)
			return
		}

		if attempts == nil {
			attempts = []storage.Attempt{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(attempts)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
