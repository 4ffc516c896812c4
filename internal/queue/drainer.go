package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/swipeapply/applyd/internal/storage"
)

// Outcome is the result of one submission attempt.
type Outcome struct {
	OK             bool
	SuccessText    string
	Error          string
	ScreenshotPath string
	Unfilled       []string
}

// Runner executes one application attempt end to end.
// Implemented by apply.Runner.
type Runner interface {
	Apply(ctx context.Context, rec Record) Outcome
}

// Drainer consumes the queue one record at a time. The mutex is the
// serialization invariant: starting a drain while an attempt is in flight is
// a no-op.
type Drainer struct {
	queue  *Queue
	runner Runner
	poll   time.Duration
	logger *slog.Logger

	mu sync.Mutex
}

// NewDrainer creates a Drainer. If pollInterval is <= 0, it defaults to 5s.
func NewDrainer(q *Queue, runner Runner, pollInterval time.Duration, logger *slog.Logger) *Drainer {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		queue:  q,
		runner: runner,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls the queue until ctx is cancelled, draining only while the
// auto-drain preference is on. Each poll cycle attempts every record at most
// once, so a persistently failing record retries once per cycle instead of
// spinning.
func (d *Drainer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		auto, err := d.queue.AutoDrain()
		if err != nil {
			d.logger.Error("reading auto-drain preference", "error", err)
		}
		if auto {
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("drain cycle failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.poll):
		}
	}
}

// Drain processes eligible records until the queue has nothing new, each
// record at most once per call (a record that fails becomes eligible again
// immediately and would otherwise loop). Returns the number of records
// processed.
func (d *Drainer) Drain(ctx context.Context) (int, error) {
	processed := 0
	seen := map[string]bool{}
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		next, err := d.queue.NextEligible()
		if err != nil {
			return processed, err
		}
		if next == nil || seen[next.JobID] {
			return processed, nil
		}
		seen[next.JobID] = true

		ok, err := d.TryProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			return processed, nil
		}
		processed++
	}
}

// TryProcessNext runs one attempt against the next eligible record. It is a
// no-op (false, nil) when an attempt is already in flight or the queue is
// empty.
func (d *Drainer) TryProcessNext(ctx context.Context) (bool, error) {
	if !d.mu.TryLock() {
		return false, nil
	}
	defer d.mu.Unlock()

	rec, err := d.queue.NextEligible()
	if err != nil {
		return false, fmt.Errorf("selecting next record: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	// Failed records re-admit through queued so the transition whitelist
	// holds.
	if rec.Status == StatusFailed {
		if err := d.queue.Retry(rec.JobID); err != nil {
			return false, fmt.Errorf("re-admitting %s: %w", rec.JobID, err)
		}
	}

	if err := d.queue.store.MarkApplying(rec.JobID); err != nil {
		return false, fmt.Errorf("claiming %s: %w", rec.JobID, err)
	}

	d.logger.Info("applying", "job_id", rec.JobID, "title", rec.Job.Title, "company", rec.Job.Company)
	started := time.Now().UTC()
	outcome := d.runner.Apply(ctx, *rec)
	finished := time.Now().UTC()

	if outcome.OK {
		if err := d.queue.store.MarkApplied(rec.JobID); err != nil {
			return true, fmt.Errorf("marking %s applied: %w", rec.JobID, err)
		}
		d.logger.Info("applied", "job_id", rec.JobID, "success_text", outcome.SuccessText)
	} else {
		if err := d.queue.store.MarkFailed(rec.JobID, outcome.Error); err != nil {
			return true, fmt.Errorf("marking %s failed: %w", rec.JobID, err)
		}
		d.logger.Warn("application failed", "job_id", rec.JobID, "error", outcome.Error)
	}

	d.recordAttempt(rec.JobID, started, finished, outcome)
	return true, nil
}

// recordAttempt writes the audit row; audit failures are logged, never
// propagated.
func (d *Drainer) recordAttempt(jobID string, started, finished time.Time, outcome Outcome) {
	unfilled, err := json.Marshal(outcome.Unfilled)
	if err != nil {
		unfilled = []byte("[]")
	}
	result := "failed"
	if outcome.OK {
		result = "applied"
	}
	attempt := storage.Attempt{
		ID:             uuid.New().String(),
		JobID:          jobID,
		Outcome:        result,
		Error:          outcome.Error,
		ScreenshotPath: outcome.ScreenshotPath,
		UnfilledJSON:   string(unfilled),
		StartedAt:      started,
		FinishedAt:     finished,
	}
	if err := d.queue.store.SaveAttempt(attempt); err != nil {
		d.logger.Error("recording attempt", "job_id", jobID, "error", err)
	}
}
