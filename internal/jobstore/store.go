package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations on job records. Every mutation is a
// single conditional write; no read-modify-write sequence is ever exposed.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new unclaimed job record
func (s *Store) Create(ctx context.Context, jobID, kind string, payload json.RawMessage) error {
	query := `
		INSERT INTO jobs (job_id, kind, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, kind, payload, StatusUnclaimed); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Claim atomically takes ownership of a job. The single UPDATE transitions
// unclaimed -> claimed, or refreshes a claimed record whose claimed_at is
// older than staleness (the previous holder is presumed dead). Zero rows
// means another active claim exists or the job is terminal; the caller gets
// ErrClaimConflict and must treat the delivery as redundant.
//
// A fresh claim_token is issued on every successful claim; Finalize is keyed
// on it so a worker that lost its claim can never overwrite a newer attempt.
func (s *Store) Claim(ctx context.Context, jobID, workerID string, staleness time.Duration) (*Claim, error) {
	token := uuid.New().String()

	query := `
		UPDATE jobs
		SET status = $2,
		    claimed_at = NOW(),
		    claimed_by = $3,
		    claim_token = $4,
		    attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND (status = $5
		       OR (status = $2 AND claimed_at < NOW() - make_interval(secs => $6)))
		RETURNING kind, payload, attempt_count
	`

	claim := Claim{JobID: jobID, Token: token}
	err := s.db.QueryRowContext(ctx, query,
		jobID, StatusClaimed, workerID, token, StatusUnclaimed, staleness.Seconds(),
	).Scan(&claim.Kind, &claim.Payload, &claim.AttemptCount)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClaimConflict
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", claim.AttemptCount),
	)

	return &claim, nil
}

// Finalize moves a claimed job to a terminal state, conditional on the claim
// token still being current. A stale worker whose claim was taken over gets
// ErrFinalizeRefused and must not ack its delivery as completed work.
func (s *Store) Finalize(ctx context.Context, claim *Claim, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return ErrNotTerminal
	}

	query := `
		UPDATE jobs
		SET status = $3,
		    result = $4,
		    last_error = NULLIF($5, ''),
		    claim_token = NULL,
		    finalized_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = $6
		  AND claim_token = $2
	`

	result, err := s.db.ExecContext(ctx, query,
		claim.JobID, claim.Token, outcome.Status, outcome.Result, outcome.Error, StatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Finalize refused - claim no longer current",
			slog.String("job_id", claim.JobID),
			slog.String("status", string(outcome.Status)),
		)
		return ErrFinalizeRefused
	}

	s.logger.Info("Job finalized",
		slog.String("job_id", claim.JobID),
		slog.String("status", string(outcome.Status)),
	)

	return nil
}

// RecordRetry notes a transient failure and hands the job back to unclaimed,
// conditional on the claim token. The queue's redelivery is the retry
// mechanism; releasing the claim here lets the next delivery claim the job
// without waiting out the staleness threshold. attempt_count is kept.
func (s *Store) RecordRetry(ctx context.Context, claim *Claim, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = $3,
		    claimed_at = NULL,
		    claimed_by = NULL,
		    claim_token = NULL,
		    last_error = $4,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND claim_token = $2
	`

	if _, err := s.db.ExecContext(ctx, query, claim.JobID, claim.Token, StatusUnclaimed, errMsg); err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}
	return nil
}

// Reset is an explicit operator action returning a job to unclaimed from any
// state. Claim fields are cleared; the prior result and error stay on the
// record for audit.
func (s *Store) Reset(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    claimed_at = NULL,
		    claimed_by = NULL,
		    claim_token = NULL,
		    attempt_count = 0,
		    finalized_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $1
	`

	result, err := s.db.ExecContext(ctx, query, jobID, StatusUnclaimed)
	if err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}

	s.logger.Info("Job reset to unclaimed", slog.String("job_id", jobID))
	return nil
}

// FindReclaimable returns ids of jobs a worker may attempt to claim: claimed
// records whose claim has gone stale plus unclaimed records never attempted,
// oldest first. Read-only; all mutation still goes through Claim.
func (s *Store) FindReclaimable(ctx context.Context, limit int, staleness time.Duration) ([]string, error) {
	query := `
		SELECT job_id
		FROM jobs
		WHERE status = $1
		   OR (status = $2 AND claimed_at < NOW() - make_interval(secs => $3))
		ORDER BY COALESCE(claimed_at, created_at) ASC
		LIMIT $4
	`

	var ids []string
	err := s.db.SelectContext(ctx, &ids, query, StatusUnclaimed, StatusClaimed, staleness.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find reclaimable jobs: %w", err)
	}

	return ids, nil
}

// GetByID retrieves a job record
func (s *Store) GetByID(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT job_id, kind, payload, status, attempt_count,
		       claimed_at, claimed_by, claim_token, result, last_error,
		       created_at, updated_at, finalized_at
		FROM jobs
		WHERE job_id = $1
	`

	var job Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Filter narrows a List call
type Filter struct {
	Kind     string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a (created_at, job_id) position for keyset pagination
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns jobs newest first with optional kind/status filters. It
// fetches one row beyond PageSize so the caller can detect another page.
func (s *Store) List(ctx context.Context, filter Filter) ([]Job, error) {
	query := `
		SELECT job_id, kind, payload, status, attempt_count,
		       claimed_at, claimed_by, claim_token, result, last_error,
		       created_at, updated_at, finalized_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// Stats summarizes job counts by status for monitoring
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) AS n FROM jobs GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats[status] = n
	}

	return stats, rows.Err()
}
