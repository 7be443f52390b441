/***************************************************************
 *
 * Copyright (C) 2025, Packship Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package jobstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var (
	// ErrInvalidTransition indicates an attempted state change that violates
	// the monotonic lifecycle contract.  This is a programming error in the
	// caller, not a retryable condition.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobNotFound indicates the requested job id does not exist.
	ErrJobNotFound = errors.New("job not found")
)

// Store provides the durable FIFO job queue: job records, their audit
// events, and the intake request log.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at dbPath and
// applies any pending migrations.
func NewStore(dbPath string) (*Store, error) {
	// _txlock=immediate makes every transaction take the write lock at
	// BEGIN, which is what serializes concurrent ClaimNext callers.
	dsn := dbPath + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}

	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	log.Infof("Job database initialized at %s", dbPath)
	return store, nil
}

func (s *Store) runMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Enqueue inserts a new job in state pending and returns its id.  Manifest
// content is not validated here; that is the intake layer's job.
func (s *Store) Enqueue(manifest *Manifest, requestID int64) (int64, error) {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal manifest")
	}

	query := `INSERT INTO jobs (request_id, manifest, status, created_at) VALUES (?, ?, ?, ?)`
	result, err := s.db.Exec(query, requestID, string(raw), StatePending, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert job")
	}

	jobID, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get inserted job id")
	}

	log.Debugf("Enqueued job %d (request %d)", jobID, requestID)
	return jobID, nil
}

// ClaimNext atomically selects the oldest pending job, transitions it to in
// progress, stamps its start time, and returns it.  Returns (nil, nil) when
// no pending job exists.  The select-then-update runs in one write
// transaction so that two concurrent callers can never both claim the same
// job.
func (s *Store) ClaimNext() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	query := `SELECT id, request_id, manifest, created_at FROM jobs
	          WHERE status = ? ORDER BY id ASC LIMIT 1`

	var job Job
	var createdAt int64
	err = tx.QueryRow(query, StatePending).Scan(&job.ID, &job.RequestID, &job.RawManifest, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query next pending job")
	}

	now := time.Now()
	result, err := tx.Exec(`UPDATE jobs SET status = ?, start_time = ? WHERE id = ? AND status = ?`,
		StateInProgress, now.Unix(), job.ID, StatePending)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim job %d", job.ID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Another claimer won the race between our select and update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit claim of job %d", job.ID)
	}

	job.State = StateInProgress
	job.CreatedAt = time.Unix(createdAt, 0)
	start := time.Unix(now.Unix(), 0)
	job.StartTime = &start

	log.Debugf("Claimed job %d", job.ID)
	return &job, nil
}

// MarkTerminal transitions an in-progress job to completed or failed and
// stamps its end time.  Fails with ErrInvalidTransition if the job is not
// currently in progress.
func (s *Store) MarkTerminal(jobID int64, state JobState, reason string) error {
	if !state.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "%s is not a terminal state", state)
	}

	// Keep failure_reason NULL rather than empty on success.
	var failureReason sql.NullString
	if reason != "" {
		failureReason = sql.NullString{String: reason, Valid: true}
	}

	query := `UPDATE jobs SET status = ?, end_time = ?, failure_reason = ? WHERE id = ? AND status = ?`
	result, err := s.db.Exec(query, state, time.Now().Unix(), failureReason, jobID, StateInProgress)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %d %s", jobID, state)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrInvalidTransition, "job %d is not in progress", jobID)
	}

	log.Debugf("Job %d marked %s", jobID, state)
	return nil
}

// AppendEvent inserts one audit entry into the job's event log.
func (s *Store) AppendEvent(jobID int64, message string) error {
	query := `INSERT INTO events (job_id, created_at, message) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, jobID, time.Now().Unix(), message); err != nil {
		return errors.Wrapf(err, "failed to append event for job %d", jobID)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(jobID int64) (*Job, error) {
	query := `SELECT id, request_id, manifest, status, created_at, start_time, end_time, failure_reason
	          FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRow(query, jobID))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrJobNotFound, "job %d", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query job %d", jobID)
	}
	return job, nil
}

// ListJobs retrieves jobs ordered newest first, optionally filtered by
// state, along with the total count matching the filter.
func (s *Store) ListJobs(state JobState, limit, offset int) ([]*Job, int, error) {
	query := `SELECT id, request_id, manifest, status, created_at, start_time, end_time, failure_reason FROM jobs`
	countQuery := `SELECT COUNT(*) FROM jobs`
	args := []interface{}{}

	if state != "" {
		query += ` WHERE status = ?`
		countQuery += ` WHERE status = ?`
		args = append(args, state)
	}

	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count jobs")
	}

	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan job row")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to iterate job rows")
	}

	return jobs, total, nil
}

// GetEvents returns the job's audit trail in insertion order.
func (s *Store) GetEvents(jobID int64) ([]JobEvent, error) {
	query := `SELECT id, job_id, created_at, message FROM events WHERE job_id = ? ORDER BY id ASC`

	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query events for job %d", jobID)
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var ev JobEvent
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.JobID, &createdAt, &ev.Message); err != nil {
			return nil, errors.Wrap(err, "failed to scan event row")
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate event rows")
	}

	return events, nil
}

// LogRequest records one inbound intake request and returns its id.
func (s *Store) LogRequest(sourceIP, userAgent, method, requestURL, requestRaw string) (int64, error) {
	query := `INSERT INTO requests (source_ip, user_agent, method, request_url, request_raw, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`
	result, err := s.db.Exec(query, sourceIP, userAgent, method, requestURL, requestRaw, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert request record")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get inserted request id")
	}
	return id, nil
}

// SetRequestStatus back-fills the response status on a logged request.
func (s *Store) SetRequestStatus(requestID int64, status int) error {
	if _, err := s.db.Exec(`UPDATE requests SET response_status = ? WHERE id = ?`, status, requestID); err != nil {
		return errors.Wrapf(err, "failed to update request %d status", requestID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var createdAt int64
	var startTime, endTime sql.NullInt64
	var reason sql.NullString

	err := row.Scan(&job.ID, &job.RequestID, &job.RawManifest, &job.State,
		&createdAt, &startTime, &endTime, &reason)
	if err != nil {
		return nil, err
	}

	job.CreatedAt = time.Unix(createdAt, 0)
	if startTime.Valid {
		t := time.Unix(startTime.Int64, 0)
		job.StartTime = &t
	}
	if endTime.Valid {
		t := time.Unix(endTime.Int64, 0)
		job.EndTime = &t
	}
	if reason.Valid {
		job.FailureReason = reason.String
	}

	return &job, nil
}
