// Package queue owns the application lifecycle: durable per-job records,
// the queued→applying→{applied|failed} state machine, and the drainer that
// serializes attempts.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/storage"
)

// ErrBusy is returned when an attempt would start while one is in flight.
var ErrBusy = storage.ErrBusy

// Statuses, re-exported for callers that never touch storage directly.
const (
	StatusQueued   = storage.StatusQueued
	StatusApplying = storage.StatusApplying
	StatusApplied  = storage.StatusApplied
	StatusFailed   = storage.StatusFailed
)

// Job identifies the posting a record applies to.
type Job struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	ApplyURL string `json:"apply_url"`
}

// Record is the caller-facing view of one application.
type Record struct {
	JobID      string           `json:"job_id"`
	Job        Job              `json:"job"`
	Profile    *profile.Profile `json:"profile,omitempty"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	EligibleAt time.Time        `json:"eligible_at"`
	AppliedAt  time.Time        `json:"applied_at,omitzero"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Store abstracts the persistence operations the queue needs.
// Implemented by storage.Store.
type Store interface {
	UpsertApplication(app storage.Application) error
	UpdateApplicationJob(jobID, title, company, applyURL string) error
	GetApplication(jobID string) (storage.Application, error)
	ListApplications() ([]storage.Application, error)
	NextEligibleApplication() (*storage.Application, error)
	MarkApplying(jobID string) error
	MarkApplied(jobID string) error
	MarkFailed(jobID, errMsg string) error
	RequeueApplication(jobID string) error
	RemoveApplication(jobID string) error
	RecoverInterrupted() (int, error)
	HasApplied(jobID string) (bool, error)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	SaveAttempt(a storage.Attempt) error
}

// Queue provides the record lifecycle over a Store.
type Queue struct {
	store Store
}

// New creates a Queue and recovers any record a crash left in applying: it
// becomes failed ("interrupted") and is re-admissible through Retry.
func New(store Store) (*Queue, error) {
	if _, err := store.RecoverInterrupted(); err != nil {
		return nil, fmt.Errorf("recovering queue: %w", err)
	}
	return &Queue{store: store}, nil
}

// Enqueue upserts a record by jobID. An existing record is replaced
// last-write-wins and reset to queued; the queue never grows a duplicate.
func (q *Queue) Enqueue(jobID string, job Job, p *profile.Profile) error {
	if jobID == "" {
		return fmt.Errorf("enqueue: empty job id")
	}
	if job.ApplyURL == "" {
		return fmt.Errorf("enqueue: empty apply url")
	}
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile snapshot: %w", err)
	}
	return q.store.UpsertApplication(storage.Application{
		JobID:       jobID,
		Title:       job.Title,
		Company:     job.Company,
		ApplyURL:    job.ApplyURL,
		ProfileJSON: string(profileJSON),
	})
}

// UpdateJob rewrites a record's posting metadata in place. Unlike Enqueue it
// never resets status or clears a prior error; empty fields are left as-is.
func (q *Queue) UpdateJob(jobID string, job Job) error {
	return q.store.UpdateApplicationJob(jobID, job.Title, job.Company, job.ApplyURL)
}

// Get returns the record for jobID.
func (q *Queue) Get(jobID string) (Record, error) {
	app, err := q.store.GetApplication(jobID)
	if err != nil {
		return Record{}, err
	}
	return toRecord(app)
}

// List returns every record in queue order.
func (q *Queue) List() ([]Record, error) {
	apps, err := q.store.ListApplications()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(apps))
	for _, app := range apps {
		rec, err := toRecord(app)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// NextEligible returns the first queued or failed record, by eligibility
// time, or nil when there is nothing to process.
func (q *Queue) NextEligible() (*Record, error) {
	app, err := q.store.NextEligibleApplication()
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, nil
	}
	rec, err := toRecord(*app)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Retry re-admits a failed record (failed→queued).
func (q *Queue) Retry(jobID string) error {
	return q.store.RequeueApplication(jobID)
}

// Remove deletes a record. Records are never removed automatically.
func (q *Queue) Remove(jobID string) error {
	return q.store.RemoveApplication(jobID)
}

// HasApplied reports whether the job is on the applied skip list.
func (q *Queue) HasApplied(jobID string) (bool, error) {
	return q.store.HasApplied(jobID)
}

// AutoDrain reports whether the queue drains itself without explicit
// triggers. Defaults to false when never set.
func (q *Queue) AutoDrain() (bool, error) {
	v, err := q.store.GetSetting(storage.SettingAutoDrain)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetAutoDrain persists the auto-drain preference.
func (q *Queue) SetAutoDrain(on bool) error {
	v := "false"
	if on {
		v = "true"
	}
	return q.store.SetSetting(storage.SettingAutoDrain, v)
}

func toRecord(app storage.Application) (Record, error) {
	rec := Record{
		JobID: app.JobID,
		Job: Job{
			Title:    app.Title,
			Company:  app.Company,
			ApplyURL: app.ApplyURL,
		},
		Status:     app.Status,
		Error:      app.Error,
		EligibleAt: app.EligibleAt,
		AppliedAt:  app.AppliedAt,
		CreatedAt:  app.CreatedAt,
		UpdatedAt:  app.UpdatedAt,
	}
	if app.ProfileJSON != "" && app.ProfileJSON != "null" {
		var p profile.Profile
		if err := json.Unmarshal([]byte(app.ProfileJSON), &p); err != nil {
			return Record{}, fmt.Errorf("parsing profile snapshot for %s: %w", app.JobID, err)
		}
		rec.Profile = &p
	}
	return rec, nil
}
