package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mediaflow/jobqueue/internal/jobstore"
)

// reclaimLoop periodically sweeps for jobs with no active claim: records
// whose holder died mid-run plus records whose queue message was lost. They
// run through the same claim-pipeline-finalize path, just without a queue
// delivery to ack.
func (w *Worker) reclaimLoop(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Reclaim loop started",
		slog.Duration("interval", w.settings.ReclaimInterval),
		slog.Int("batch_size", w.settings.ReclaimBatchSize),
	)

	for {
		if !w.sleep(ctx, w.settings.ReclaimInterval) {
			return
		}
		w.reclaimOnce(ctx)
	}
}

// reclaimOnce claims and runs one batch of reclaimable jobs
func (w *Worker) reclaimOnce(ctx context.Context) {
	limit := w.settings.ReclaimBatchSize
	if limit <= 0 {
		limit = w.settings.BatchSize
	}

	ids, err := w.store.FindReclaimable(ctx, limit, w.settings.StalenessThreshold())
	if err != nil {
		w.logger.Error("Failed to find reclaimable jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(ids) == 0 {
		return
	}

	w.logger.Info("Reclaiming jobs",
		slog.Int("count", len(ids)),
	)

	for _, jobID := range ids {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		claim, err := w.store.Claim(ctx, jobID, w.workerID, w.settings.StalenessThreshold())
		if err != nil {
			if errors.Is(err, jobstore.ErrClaimConflict) {
				// Someone beat us to it between the scan and the claim
				continue
			}
			w.logger.Error("Failed to claim reclaimable job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.logger.Info("Job reclaimed",
			slog.String("job_id", jobID),
			slog.Int("attempt", claim.AttemptCount),
		)

		outcome, runErr := w.execute(ctx, claim)
		if runErr == nil {
			w.finalize(ctx, claim, outcome)
			continue
		}
		w.handleFailure(ctx, nil, claim, runErr)
	}
}
