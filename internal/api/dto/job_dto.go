// Package dto defines the request and response shapes of the HTTP API
package dto

import (
	"encoding/json"
	"time"
)

// CreateJobRequest is the body of POST /api/v1/jobs
type CreateJobRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// JobResponse is the external view of a job record
type JobResponse struct {
	JobID        string          `json:"job_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy    string          `json:"claimed_by,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinalizedAt  *time.Time      `json:"finalized_at,omitempty"`
}

// ListJobsResponse is the body of GET /api/v1/jobs
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ReclaimableResponse is the body of GET /api/v1/jobs/reclaimable
type ReclaimableResponse struct {
	JobIDs []string `json:"job_ids"`
	Count  int      `json:"count"`
}

// WorkerStatusResponse is the body of GET /api/v1/worker/status
type WorkerStatusResponse struct {
	StatusCounts map[string]int `json:"status_counts"`
	Reclaimable  int            `json:"reclaimable"`
}
