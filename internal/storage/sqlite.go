// Package storage is the SQLite persistence layer: the application queue,
// applicant profile keys, the applied-jobs skip list, settings, and the
// per-attempt audit log. A single connection serializes all writes.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "applyd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any embedded migration not yet recorded in schema_version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Applications ---

const applicationColumns = `job_id, position, title, company, apply_url, profile_json, status, error, eligible_at, applied_at, created_at, updated_at`

// UpsertApplication inserts or replaces the record for app.JobID. A replaced
// record keeps its queue position and creation time; status resets to queued
// and any prior error is cleared.
func (s *Store) UpsertApplication(app Application) error {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var position int64
	var createdAt string
	err = tx.QueryRow("SELECT position, created_at FROM applications WHERE job_id = ?", app.JobID).Scan(&position, &createdAt)
	switch err {
	case nil:
		_, err = tx.Exec(`
			UPDATE applications
			SET title = ?, company = ?, apply_url = ?, profile_json = ?,
			    status = ?, error = '', eligible_at = ?, applied_at = NULL, updated_at = ?
			WHERE job_id = ?`,
			app.Title, app.Company, app.ApplyURL, app.ProfileJSON,
			StatusQueued, nowStr, nowStr, app.JobID,
		)
	case sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO applications (`+applicationColumns+`)
			VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM applications), ?, ?, ?, ?, ?, '', ?, NULL, ?, ?)`,
			app.JobID, app.Title, app.Company, app.ApplyURL, app.ProfileJSON,
			StatusQueued, nowStr, nowStr, nowStr,
		)
	default:
		return fmt.Errorf("checking existing application: %w", err)
	}
	if err != nil {
		return fmt.Errorf("writing application %s: %w", app.JobID, err)
	}

	return tx.Commit()
}

// UpdateApplicationJob rewrites the posting metadata of an existing record
// without touching its status or queue position. Empty fields keep their
// current value.
func (s *Store) UpdateApplicationJob(jobID, title, company, applyURL string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE applications
		SET title = COALESCE(NULLIF(?, ''), title),
		    company = COALESCE(NULLIF(?, ''), company),
		    apply_url = COALESCE(NULLIF(?, ''), apply_url),
		    updated_at = ?
		WHERE job_id = ?`,
		title, company, applyURL, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("updating application %s: %w", jobID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetApplication returns the record for jobID.
func (s *Store) GetApplication(jobID string) (Application, error) {
	row := s.db.QueryRow("SELECT "+applicationColumns+" FROM applications WHERE job_id = ?", jobID)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return Application{}, ErrNotFound
	}
	return app, err
}

// ListApplications returns every record in queue-position order.
func (s *Store) ListApplications() ([]Application, error) {
	rows, err := s.db.Query("SELECT " + applicationColumns + " FROM applications ORDER BY position ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// NextEligibleApplication returns the first record eligible for processing:
// queued or failed, ordered by when it became eligible, ties broken by queue
// position. Returns nil when the queue has nothing to do.
func (s *Store) NextEligibleApplication() (*Application, error) {
	row := s.db.QueryRow(`
		SELECT `+applicationColumns+` FROM applications
		WHERE status IN (?, ?)
		ORDER BY eligible_at ASC, position ASC
		LIMIT 1`, StatusQueued, StatusFailed)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// MarkApplying transitions jobID from queued to applying. Fails with ErrBusy
// if any record is already applying; only one attempt may be in flight.
func (s *Store) MarkApplying(jobID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var inFlight int
	if err := tx.QueryRow("SELECT COUNT(*) FROM applications WHERE status = ?", StatusApplying).Scan(&inFlight); err != nil {
		return fmt.Errorf("checking in-flight applications: %w", err)
	}
	if inFlight > 0 {
		return ErrBusy
	}

	if err := s.transitionTx(tx, jobID, StatusApplying, StatusQueued); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkApplied transitions jobID from applying to applied, stamps appliedAt,
// and registers the job on the skip list in the same transaction.
func (s *Store) MarkApplied(jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE applications SET status = ?, applied_at = ?, error = '', updated_at = ?
		WHERE job_id = ? AND status = ?`,
		StatusApplied, now, now, jobID, StatusApplying,
	)
	if err != nil {
		return fmt.Errorf("marking applied: %w", err)
	}
	if err := checkTransitioned(tx, res, jobID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO applied_jobs (job_id, applied_at) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET applied_at = excluded.applied_at`,
		jobID, now,
	); err != nil {
		return fmt.Errorf("registering applied job: %w", err)
	}

	return tx.Commit()
}

// MarkFailed transitions jobID from applying to failed with the given error.
// The record becomes eligible again immediately (retry re-admits it).
func (s *Store) MarkFailed(jobID, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE applications SET status = ?, error = ?, eligible_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		StatusFailed, errMsg, now, now, jobID, StatusApplying,
	)
	if err != nil {
		return fmt.Errorf("marking failed: %w", err)
	}
	if err := checkTransitioned(tx, res, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

// RequeueApplication transitions jobID from failed back to queued.
func (s *Store) RequeueApplication(jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE applications SET status = ?, error = '', eligible_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		StatusQueued, now, now, jobID, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("requeueing: %w", err)
	}
	if err := checkTransitioned(tx, res, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveApplication deletes the record for jobID.
func (s *Store) RemoveApplication(jobID string) error {
	res, err := s.db.Exec("DELETE FROM applications WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverInterrupted marks any record left applying by a crash as failed so
// it becomes re-admissible. Returns the number of records recovered.
func (s *Store) RecoverInterrupted() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE applications SET status = ?, error = 'interrupted by restart', eligible_at = ?, updated_at = ?
		WHERE status = ?`,
		StatusFailed, now, now, StatusApplying,
	)
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted applications: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// transitionTx performs a guarded status update inside tx.
func (s *Store) transitionTx(tx *sql.Tx, jobID, to string, from ...string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(from)-1)
	args := []any{to, now, jobID}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := tx.Exec(
		"UPDATE applications SET status = ?, updated_at = ? WHERE job_id = ? AND status IN (?"+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("transitioning %s to %s: %w", jobID, to, err)
	}
	return checkTransitioned(tx, res, jobID)
}

// checkTransitioned distinguishes a missing record from a disallowed
// transition when a guarded update touched no rows.
func checkTransitioned(tx *sql.Tx, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM applications WHERE job_id = ?", jobID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (Application, error) {
	var app Application
	var eligibleAt, createdAt, updatedAt string
	var appliedAt sql.NullString
	err := row.Scan(
		&app.JobID, &app.Position, &app.Title, &app.Company, &app.ApplyURL,
		&app.ProfileJSON, &app.Status, &app.Error, &eligibleAt, &appliedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Application{}, err
	}
	if app.EligibleAt, err = time.Parse(time.RFC3339, eligibleAt); err != nil {
		return Application{}, fmt.Errorf("parsing eligible_at: %w", err)
	}
	if app.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Application{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if app.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Application{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if appliedAt.Valid {
		if app.AppliedAt, err = time.Parse(time.RFC3339, appliedAt.String); err != nil {
			return Application{}, fmt.Errorf("parsing applied_at: %w", err)
		}
	}
	return app, nil
}

// --- Applied-jobs skip list ---

// HasApplied reports whether jobID is on the skip list.
func (s *Store) HasApplied(jobID string) (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM applied_jobs WHERE job_id = ?", jobID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Profile ---

func (s *Store) SetProfileKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO profile (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfileKey(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM profile WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllProfileKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM profile")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Settings ---

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// --- Attempts ---

func (s *Store) SaveAttempt(a Attempt) error {
	unfilled := a.UnfilledJSON
	if unfilled == "" {
		unfilled = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO attempts (id, job_id, outcome, error, screenshot_path, unfilled_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.Outcome, a.Error, a.ScreenshotPath, unfilled,
		a.StartedAt.UTC().Format(time.RFC3339), a.FinishedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListAttempts(limit int) ([]Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, outcome, error, screenshot_path, unfilled_json, started_at, finished_at
		FROM attempts ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Attempt
	for rows.Next() {
		var a Attempt
		var startedAt, finishedAt string
		if err := rows.Scan(&a.ID, &a.JobID, &a.Outcome, &a.Error, &a.ScreenshotPath, &a.UnfilledJSON, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if a.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if a.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
