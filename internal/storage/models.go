package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when a second application would enter applying
	// while one is already in flight.
	ErrBusy = errors.New("an application is already in progress")
	// ErrInvalidTransition is returned when a status change is outside the
	// allowed lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Application statuses. Transitions are restricted to queued→applying,
// applying→applied, applying→failed, failed→queued.
const (
	StatusQueued   = "queued"
	StatusApplying = "applying"
	StatusApplied  = "applied"
	StatusFailed   = "failed"
)

// Application is one queued job-application record. ProfileJSON is the
// applicant-profile snapshot captured at enqueue time.
type Application struct {
	JobID       string
	Position    int64
	Title       string
	Company     string
	ApplyURL    string
	ProfileJSON string
	Status      string
	Error       string
	EligibleAt  time.Time
	AppliedAt   time.Time // zero unless status is applied
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attempt is the audit row for one run of the submission loop.
type Attempt struct {
	ID             string
	JobID          string
	Outcome        string // "applied" or "failed"
	Error          string
	ScreenshotPath string
	UnfilledJSON   string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Setting keys.
const (
	SettingAutoDrain = "queue.auto_drain"
)
