// Package worker drives the processing loop: dequeue deliveries, claim job
// records, run pipelines, and finalize. Queue acks always follow the claim's
// verdict; a delivery for a job someone else holds is dropped, never retried.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mediaflow/jobqueue/internal/config"
	"github.com/mediaflow/jobqueue/internal/events"
	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/metrics"
	"github.com/mediaflow/jobqueue/internal/pipeline"
	"github.com/mediaflow/jobqueue/internal/queue"
)

// Store is the job record surface the worker depends on
type Store interface {
	Claim(ctx context.Context, jobID, workerID string, staleness time.Duration) (*jobstore.Claim, error)
	Finalize(ctx context.Context, claim *jobstore.Claim, outcome jobstore.Outcome) error
	RecordRetry(ctx context.Context, claim *jobstore.Claim, errMsg string) error
	FindReclaimable(ctx context.Context, limit int, staleness time.Duration) ([]string, error)
}

// Config holds worker wiring
type Config struct {
	Logger   *slog.Logger
	Gateway  queue.Gateway
	Store    Store
	Registry *pipeline.Registry
	Events   *events.Publisher
	Metrics  *metrics.Metrics
	Settings config.WorkerConfig
}

// Worker is the background job processor
type Worker struct {
	logger   *slog.Logger
	gateway  queue.Gateway
	store    Store
	registry *pipeline.Registry
	events   *events.Publisher
	metrics  *metrics.Metrics
	settings config.WorkerConfig
	workerID string

	jobsChan chan queue.Message
	stopChan chan struct{}
	wg       sync.WaitGroup

	processed      atomic.Uint64
	failed         atomic.Uint64
	retried        atomic.Uint64
	archived       atomic.Uint64
	claimConflicts atomic.Uint64
	lastPollNano   atomic.Int64
}

// NewWorker creates a worker instance with a unique worker id
func NewWorker(cfg *Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	return &Worker{
		logger:   cfg.Logger,
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		registry: cfg.Registry,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		settings: cfg.Settings,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		jobsChan: make(chan queue.Message),
		stopChan: make(chan struct{}),
	}
}

// WorkerID returns the unique id claims are attributed to
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start spawns the processing goroutines and returns. Use Stop for a
// graceful shutdown.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.settings.Concurrency),
		slog.Int("batch_size", w.settings.BatchSize),
		slog.Duration("visibility", w.settings.Visibility()),
		slog.Duration("staleness_threshold", w.settings.StalenessThreshold()),
	)

	if w.settings.StartupDelay > 0 {
		w.logger.Info("Delaying startup",
			slog.Duration("startup_delay", w.settings.StartupDelay),
		)
		if !w.sleep(ctx, w.settings.StartupDelay) {
			return ctx.Err()
		}
	}

	w.spawnPool(ctx)

	w.wg.Add(1)
	go w.pollLoop(ctx)

	if w.settings.ReclaimInterval > 0 {
		w.wg.Add(1)
		go w.reclaimLoop(ctx)
	}

	return nil
}

// Stop gracefully stops the worker. In-flight jobs finish; unstarted
// deliveries reappear after their visibility timeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...",
		slog.String("worker_id", w.workerID),
	)
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
}

// Stats is a point-in-time snapshot of worker counters
type Stats struct {
	WorkerID       string    `json:"worker_id"`
	Kinds          []string  `json:"kinds"`
	Processed      uint64    `json:"processed"`
	Failed         uint64    `json:"failed"`
	Retried        uint64    `json:"retried"`
	Archived       uint64    `json:"archived"`
	ClaimConflicts uint64    `json:"claim_conflicts"`
	LastPoll       time.Time `json:"last_poll"`
}

// Stats returns a snapshot of the worker's counters
func (w *Worker) Stats() Stats {
	var lastPoll time.Time
	if nano := w.lastPollNano.Load(); nano > 0 {
		lastPoll = time.Unix(0, nano)
	}

	return Stats{
		WorkerID:       w.workerID,
		Kinds:          w.registry.Kinds(),
		Processed:      w.processed.Load(),
		Failed:         w.failed.Load(),
		Retried:        w.retried.Load(),
		Archived:       w.archived.Load(),
		ClaimConflicts: w.claimConflicts.Load(),
		LastPoll:       lastPoll,
	}
}

// sleep waits for d unless the worker is stopping; returns false on stop
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-w.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}
