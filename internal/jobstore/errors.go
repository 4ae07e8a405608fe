package jobstore

import "errors"

var (
	// ErrJobNotFound is returned when a job record does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrClaimConflict is returned when another active claim holds the job,
	// or the job already reached a terminal state
	ErrClaimConflict = errors.New("job held by an active claim or already terminal")

	// ErrFinalizeRefused is returned when a finalize no longer matches the
	// claim that requested it; a fresher attempt owns the record now
	ErrFinalizeRefused = errors.New("finalize refused: claim no longer current")

	// ErrNotTerminal is returned when a finalize is attempted with a
	// non-terminal status
	ErrNotTerminal = errors.New("finalize status must be terminal")
)
