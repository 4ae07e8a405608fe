package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/pipeline"
	"github.com/mediaflow/jobqueue/internal/queue"
)

// envelope is the queue message body; the job record holds the real payload
type envelope struct {
	JobID string `json:"job_id"`
}

// errProcessingTimeout marks a pipeline run cut off by the job timeout
var errProcessingTimeout = errors.New("processing timed out")

// handleMessage runs one queue delivery through decode, claim, pipeline, and
// finalize. The queue ack mirrors the job record's fate: delete for handled
// work, archive for permanent failures, no ack when redelivery should retry.
func (w *Worker) handleMessage(ctx context.Context, msg queue.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil || env.JobID == "" {
		w.logger.Warn("Archiving malformed message",
			slog.String("message_id", msg.ID),
			slog.Int("delivery_count", msg.DeliveryCount),
		)
		w.ackArchive(ctx, msg)
		return
	}

	claim, err := w.store.Claim(ctx, env.JobID, w.workerID, w.settings.StalenessThreshold())
	if err != nil {
		if errors.Is(err, jobstore.ErrClaimConflict) {
			// Another claim owns the job or it is already terminal. The
			// delivery is redundant, not wrong.
			w.claimConflicts.Add(1)
			if w.metrics != nil {
				w.metrics.ClaimConflicts.Inc()
			}
			w.logger.Info("Dropping redundant delivery",
				slog.String("job_id", env.JobID),
				slog.Int("delivery_count", msg.DeliveryCount),
			)
			w.ackDelete(ctx, msg)
			return
		}

		// Store unreachable; leave the delivery for the visibility timeout
		w.logger.Error("Failed to claim job",
			slog.String("job_id", env.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	outcome, runErr := w.execute(ctx, claim)
	if runErr == nil {
		if w.finalize(ctx, claim, outcome) {
			w.ackDelete(ctx, msg)
		}
		return
	}

	w.handleFailure(ctx, &msg, claim, runErr)
}

// execute looks up the pipeline for the claim's kind and runs it under the
// job timeout.
func (w *Worker) execute(ctx context.Context, claim *jobstore.Claim) (jobstore.Outcome, error) {
	p, err := w.registry.Lookup(claim.Kind)
	if err != nil {
		return jobstore.Outcome{}, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.settings.JobTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := p.Run(jobCtx, claim)
	if w.metrics != nil {
		w.metrics.ObserveProcessing(claim.Kind, time.Since(start))
	}

	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return jobstore.Outcome{}, fmt.Errorf("%w after %s: %v", errProcessingTimeout, w.settings.JobTimeout, err)
	}

	return outcome, err
}

// handleFailure decides between retry-by-redelivery and a terminal failure.
// msg is nil when the job came through the reclaim path and no delivery is
// held; retry budget then falls back to the record's attempt count.
func (w *Worker) handleFailure(ctx context.Context, msg *queue.Message, claim *jobstore.Claim, runErr error) {
	// A shutdown mid-run is not a job failure. The claim goes stale and the
	// reclaim path picks the job up again.
	if ctx.Err() != nil {
		w.logger.Info("Job interrupted by shutdown",
			slog.String("job_id", claim.JobID),
		)
		return
	}

	switch {
	case errors.Is(runErr, errProcessingTimeout):
		w.logger.Warn("Job timed out",
			slog.String("job_id", claim.JobID),
			slog.String("kind", claim.Kind),
		)
		w.finalize(ctx, claim, jobstore.Outcome{
			Status: jobstore.StatusTimedOut,
			Error:  runErr.Error(),
		})
		w.archiveIfHeld(ctx, msg)

	case errors.Is(runErr, pipeline.ErrMalformedPayload), errors.Is(runErr, pipeline.ErrUnknownKind):
		// Retrying cannot fix the payload
		w.logger.Warn("Job failed permanently",
			slog.String("job_id", claim.JobID),
			slog.String("error", runErr.Error()),
		)
		w.finalize(ctx, claim, jobstore.Outcome{
			Status: jobstore.StatusFailed,
			Error:  runErr.Error(),
		})
		w.archiveIfHeld(ctx, msg)

	case pipeline.IsRetryable(runErr) && w.retryBudgetLeft(msg, claim):
		w.logger.Info("Job will be retried",
			slog.String("job_id", claim.JobID),
			slog.Int("attempt", claim.AttemptCount),
			slog.Int("max_retries", w.settings.MaxRetries),
			slog.String("error", runErr.Error()),
		)
		if err := w.store.RecordRetry(ctx, claim, runErr.Error()); err != nil {
			w.logger.Error("Failed to record retry",
				slog.String("job_id", claim.JobID),
				slog.String("error", err.Error()),
			)
		}
		w.retried.Add(1)
		if w.metrics != nil {
			w.metrics.JobsRetried.Inc()
		}
		// No ack: the visibility timeout brings the delivery back

	default:
		msgText := runErr.Error()
		if pipeline.IsRetryable(runErr) {
			msgText = "retries exhausted: " + msgText
			w.logger.Warn("Job exceeded max retries",
				slog.String("job_id", claim.JobID),
				slog.Int("attempt", claim.AttemptCount),
				slog.Int("max_retries", w.settings.MaxRetries),
			)
		}
		w.finalize(ctx, claim, jobstore.Outcome{
			Status: jobstore.StatusFailed,
			Error:  msgText,
		})
		w.archiveIfHeld(ctx, msg)
	}
}

// retryBudgetLeft reports whether another retry is allowed. Queue deliveries
// are budgeted by delivery count, reclaimed jobs by attempt count.
func (w *Worker) retryBudgetLeft(msg *queue.Message, claim *jobstore.Claim) bool {
	if msg != nil {
		return msg.DeliveryCount < w.settings.MaxRetries
	}
	return claim.AttemptCount < w.settings.MaxRetries
}

// finalize moves the claimed job to its terminal state and emits the
// lifecycle event. Returns false when the claim was no longer current; the
// caller must not treat the delivery as handled work in that case.
func (w *Worker) finalize(ctx context.Context, claim *jobstore.Claim, outcome jobstore.Outcome) bool {
	if err := w.store.Finalize(ctx, claim, outcome); err != nil {
		if errors.Is(err, jobstore.ErrFinalizeRefused) {
			w.logger.Warn("Finalize refused - claim superseded",
				slog.String("job_id", claim.JobID),
				slog.String("status", string(outcome.Status)),
			)
			return false
		}
		w.logger.Error("Failed to finalize job",
			slog.String("job_id", claim.JobID),
			slog.String("error", err.Error()),
		)
		return false
	}

	w.processed.Add(1)
	if outcome.Status == jobstore.StatusFailed || outcome.Status == jobstore.StatusTimedOut {
		w.failed.Add(1)
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(claim.Kind, string(outcome.Status)).Inc()
	}
	w.events.JobFinalized(ctx, claim.JobID, claim.Kind, outcome)

	return true
}

func (w *Worker) ackDelete(ctx context.Context, msg queue.Message) {
	if err := w.gateway.AckDelete(ctx, msg); err != nil {
		w.logger.Error("Failed to delete message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) ackArchive(ctx context.Context, msg queue.Message) {
	if err := w.gateway.AckArchive(ctx, msg); err != nil {
		w.logger.Error("Failed to archive message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	w.archived.Add(1)
	if w.metrics != nil {
		w.metrics.JobsArchived.Inc()
	}
}

func (w *Worker) archiveIfHeld(ctx context.Context, msg *queue.Message) {
	if msg != nil {
		w.ackArchive(ctx, *msg)
	}
}
