// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobstore is the durable job-record store backing the Job Engine
// (spec §4.H): a sqlite-backed table of job records with a row-level-locked
// claim protocol, implemented as serializable transactions since sqlite has
// no native row locks.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kraklabs/repograph/internal/apperrors"
)

// Status is a job's lifecycle state (spec §3, §4.H).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is the current pipeline step a running job is on.
type Step string

const (
	StepIngest    Step = "INGEST"
	StepParse     Step = "PARSE"
	StepLoadGraph Step = "LOAD_GRAPH"
	StepEmbed     Step = "EMBED"
)

// Milestone progress values a completed step advances to (spec §4.H).
const (
	ProgressAfterIngest    = 25
	ProgressAfterParse     = 50
	ProgressAfterLoadGraph = 75
	ProgressAfterEmbed     = 90
	ProgressComplete       = 100
)

// Job is a job record (spec §3).
type Job struct {
	JobID       string
	RepoID      string
	JobType     string
	Status      Status
	Progress    int
	CurrentStep Step
	Attempts    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the sqlite-backed job table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at dsn and ensures
// the jobs table exists. dsn is a modernc.org/sqlite data source name, e.g.
// a file path or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ConfigError, "open job store", err)
	}
	// sqlite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent engine workers in favor of serializing
	// at the database/sql level instead.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ConfigError, "create jobs table", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	repo_id      TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	status       TEXT NOT NULL,
	progress     INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_repo_id ON jobs(repo_id);
`

// CreateJob inserts a new queued job record.
func (s *Store) CreateJob(ctx context.Context, jobID, repoID, jobType string) (Job, error) {
	now := time.Now()
	job := Job{
		JobID:     jobID,
		RepoID:    repoID,
		JobType:   jobType,
		Status:    StatusQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, repo_id, job_type, status, progress, current_step, attempts, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, '', 0, '', ?, ?)`,
		job.JobID, job.RepoID, job.JobType, job.Status, fmtTime(now), fmtTime(now))
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "insert job", err)
	}
	return job, nil
}

// Get fetches a job record by id.
func (s *Store) Get(ctx context.Context, jobID string) (Job, error) {
	return s.get(ctx, s.db, jobID)
}

func (s *Store) get(ctx context.Context, q querier, jobID string) (Job, error) {
	row := q.QueryRowContext(ctx,
		`SELECT job_id, repo_id, job_type, status, progress, current_step, attempts, error, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID)
	var j Job
	var status, step, created, updated string
	if err := row.Scan(&j.JobID, &j.RepoID, &j.JobType, &status, &j.Progress, &step, &j.Attempts, &j.Error, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, apperrors.New(apperrors.NotFound, fmt.Sprintf("job %q not found", jobID))
		}
		return Job{}, apperrors.Wrap(apperrors.Internal, "scan job", err)
	}
	j.Status = Status(status)
	j.CurrentStep = Step(step)
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}

// ListByRepo lists jobs for repoID, newest first.
func (s *Store) ListByRepo(ctx context.Context, repoID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, repo_id, job_type, status, progress, current_step, attempts, error, created_at, updated_at
		 FROM jobs WHERE repo_id = ? ORDER BY created_at DESC`, repoID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "list jobs", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var status, step, created, updated string
		if err := rows.Scan(&j.JobID, &j.RepoID, &j.JobType, &status, &j.Progress, &step, &j.Attempts, &j.Error, &created, &updated); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "scan job row", err)
		}
		j.Status = Status(status)
		j.CurrentStep = Step(step)
		j.CreatedAt = parseTime(created)
		j.UpdatedAt = parseTime(updated)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting get() run
// either standalone or inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Claim implements spec §4.H's claim protocol: within a serializable
// transaction, select the job; if already completed or running, return its
// current status unchanged (idempotent claim); otherwise transition it to
// running, clear error, set current_step=INGEST, and bump progress to at
// least 1.
func (s *Store) Claim(ctx context.Context, jobID string) (Job, error) {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "begin claim transaction", err)
	}
	defer tx.Rollback()

	job, err := s.get(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}

	if job.Status == StatusCompleted || job.Status == StatusRunning {
		return job, nil
	}

	progress := job.Progress
	if progress < 1 {
		progress = 1
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = '', current_step = ?, progress = ?, updated_at = ? WHERE job_id = ?`,
		StatusRunning, StepIngest, progress, fmtTime(now), jobID)
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "update job on claim", err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "commit claim transaction", err)
	}

	job.Status = StatusRunning
	job.Error = ""
	job.CurrentStep = StepIngest
	job.Progress = progress
	job.UpdatedAt = now
	return job, nil
}

// NextQueued returns the oldest queued job's id, or sql.ErrNoRows if none
// is queued. Used by a polling worker loop to find work between claims.
func (s *Store) NextQueued(ctx context.Context) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`, StatusQueued).Scan(&jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", apperrors.Wrap(apperrors.Internal, "query next queued job", err)
	}
	return jobID, nil
}

// stepProgress maps a completed step to its milestone progress value.
var stepProgress = map[Step]int{
	StepIngest:    ProgressAfterIngest,
	StepParse:     ProgressAfterParse,
	StepLoadGraph: ProgressAfterLoadGraph,
	StepEmbed:     ProgressAfterEmbed,
}

// AdvanceStep records that step completed successfully: in its own
// transaction, sets current_step and the milestone progress for that step
// (spec §4.H's "step sequencing").
func (s *Store) AdvanceStep(ctx context.Context, jobID string, step Step) error {
	progress, ok := stepProgress[step]
	if !ok {
		return apperrors.New(apperrors.Internal, fmt.Sprintf("unknown step %q", step))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_step = ?, progress = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		step, progress, fmtTime(time.Now()), jobID, StatusRunning)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "advance step", err)
	}
	return checkRowsAffected(res, jobID)
}

// Complete marks jobID completed with progress=100 (spec §3's invariant).
func (s *Store) Complete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		StatusCompleted, ProgressComplete, fmtTime(time.Now()), jobID, StatusRunning)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "complete job", err)
	}
	return checkRowsAffected(res, jobID)
}

// Fail implements spec §4.H's failure handling: increment attempts, record
// the error. An embed-exhaustion class error fails the job immediately,
// since embedding already spent its own retry budget (§4.D), and so does
// any other error whose Kind is not Retryable. Otherwise, if attempts
// remain under maxAttempts the job is requeued; at the limit it is marked
// failed. Returns whether the job was requeued.
func (s *Store) Fail(ctx context.Context, jobID string, stepErr error, maxAttempts int) (requeued bool, err error) {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "begin fail transaction", err)
	}
	defer tx.Rollback()

	job, err := s.get(ctx, tx, jobID)
	if err != nil {
		return false, err
	}

	attempts := job.Attempts + 1
	errMsg := stepErr.Error()

	var next Status
	switch {
	case apperrors.KindOf(stepErr) == apperrors.EmbedExhausted:
		next = StatusFailed
	case !apperrors.KindOf(stepErr).Retryable():
		next = StatusFailed
	case attempts < maxAttempts:
		next = StatusQueued
	default:
		next = StatusFailed
	}

	_, execErr := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		next, attempts, errMsg, fmtTime(now), jobID)
	if execErr != nil {
		return false, apperrors.Wrap(apperrors.Internal, "update job on failure", execErr)
	}
	if err := tx.Commit(); err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "commit fail transaction", err)
	}
	return next == StatusQueued, nil
}

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "rows affected", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("job %q not found or not running", jobID))
	}
	return nil
}

// timeLayout always writes nine fractional digits, so the stored text sorts
// in the same order as the times it encodes (ORDER BY created_at).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
