package worker

import (
	"context"
	"log/slog"
	"time"
)

// idleBackoff is the ladder of sleeps applied while the queue stays empty.
// Any delivered work resets it to the first rung.
var idleBackoff = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// spawnPool starts the processing goroutines that drain jobsChan
func (w *Worker) spawnPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.settings.Concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.settings.Concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the processing loop for one pool goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping",
				slog.Int("worker_num", workerNum),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.Int("worker_num", workerNum),
			)
			return

		case msg := <-w.jobsChan:
			w.handleMessage(ctx, msg)
		}
	}
}

// pollLoop dequeues batches and feeds them to the pool. While the queue is
// empty it climbs the idle backoff ladder instead of hot-polling.
func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	idleRung := 0
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.gateway.Dequeue(ctx, w.settings.Visibility(), w.settings.BatchSize)
		w.lastPollNano.Store(time.Now().UnixNano())
		if w.metrics != nil {
			w.metrics.MarkPoll()
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to dequeue",
				slog.String("error", err.Error()),
			)
			if !w.sleep(ctx, w.settings.IdleSleep()) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			rung := idleBackoff[idleRung]
			if idleRung < len(idleBackoff)-1 {
				idleRung++
			}
			if !w.sleep(ctx, rung) {
				return
			}
			continue
		}

		idleRung = 0
		for _, msg := range messages {
			select {
			case w.jobsChan <- msg:
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}

		if w.settings.PollInterval > 0 {
			if !w.sleep(ctx, w.settings.PollInterval) {
				return
			}
		}
	}
}
