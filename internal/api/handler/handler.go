package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mediaflow/jobqueue/internal/config"
	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/queue"
)

// JobStore is the record surface the handlers depend on
type JobStore interface {
	Create(ctx context.Context, jobID, kind string, payload json.RawMessage) error
	GetByID(ctx context.Context, jobID string) (*jobstore.Job, error)
	List(ctx context.Context, filter jobstore.Filter) ([]jobstore.Job, error)
	Reset(ctx context.Context, jobID string) error
	FindReclaimable(ctx context.Context, limit int, staleness time.Duration) ([]string, error)
	Stats(ctx context.Context) (map[jobstore.Status]int, error)
}

// HealthChecker reports whether a dependency answers
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Store    JobStore
	Sender   queue.Sender
	DBHealth HealthChecker
	Worker   config.WorkerConfig
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	store    JobStore
	sender   queue.Sender
	dbHealth HealthChecker
	worker   config.WorkerConfig
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		sender:   deps.Sender,
		dbHealth: deps.DBHealth,
		worker:   deps.Worker,
	}
}
