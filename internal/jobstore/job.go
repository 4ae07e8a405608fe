package jobstore

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status is the closed set of job record states. A record starts unclaimed,
// moves to claimed when a worker takes it, and ends in exactly one terminal
// state.
type Status string

const (
	StatusUnclaimed Status = "unclaimed"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a terminal state
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Job is a persistent record for one logical unit of work. The record is
// long-lived relative to any single queue delivery.
type Job struct {
	JobID        string          `db:"job_id"`
	Kind         string          `db:"kind"`
	Payload      json.RawMessage `db:"payload"`
	Status       Status          `db:"status"`
	AttemptCount int             `db:"attempt_count"`
	ClaimedAt    sql.NullTime    `db:"claimed_at"`
	ClaimedBy    sql.NullString  `db:"claimed_by"`
	ClaimToken   sql.NullString  `db:"claim_token"`
	Result       json.RawMessage `db:"result"`
	LastError    sql.NullString  `db:"last_error"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	FinalizedAt  sql.NullTime    `db:"finalized_at"`
}

// Claim is the exclusive right to process one job, held until Finalize or
// until the claim goes stale. The token ties a finalize back to the exact
// claim attempt that produced it.
type Claim struct {
	JobID        string
	Token        string
	Kind         string
	Payload      json.RawMessage
	AttemptCount int
}

// Outcome carries a terminal status plus its result or error payload
type Outcome struct {
	Status Status
	Result json.RawMessage
	Error  string
}
