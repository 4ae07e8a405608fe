package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// PGMQ is a thin gateway over the pgmq Postgres extension. The extension
// itself owns message lifecycle (visibility timeouts, read counts, archive
// tables); this type only issues its SQL functions.
type PGMQ struct {
	db        *sqlx.DB
	queueName string
	logger    *slog.Logger
}

// NewPGMQ creates a gateway bound to one pgmq queue
func NewPGMQ(db *sqlx.DB, queueName string, logger *slog.Logger) *PGMQ {
	return &PGMQ{
		db:        db,
		queueName: queueName,
		logger:    logger,
	}
}

// pgmqRow mirrors the record returned by pgmq.read
type pgmqRow struct {
	MsgID      int64           `db:"msg_id"`
	ReadCt     int             `db:"read_ct"`
	EnqueuedAt time.Time       `db:"enqueued_at"`
	Message    json.RawMessage `db:"message"`
}

// Dequeue reads up to maxCount messages, hiding each for the visibility
// timeout. An empty queue returns an empty slice.
func (q *PGMQ) Dequeue(ctx context.Context, visibility time.Duration, maxCount int) ([]Message, error) {
	query := `SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read($1, $2, $3)`

	var rows []pgmqRow
	err := q.db.SelectContext(ctx, &rows, query, q.queueName, int(visibility.Seconds()), maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read from queue %s: %w", q.queueName, err)
	}

	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, Message{
			ID:            strconv.FormatInt(row.MsgID, 10),
			DeliveryCount: row.ReadCt,
			EnqueuedAt:    row.EnqueuedAt,
			Payload:       row.Message,
		})
	}

	return messages, nil
}

// AckDelete permanently removes a message. pgmq.delete returns false for an
// already-deleted id, which is a no-op here, not an error.
func (q *PGMQ) AckDelete(ctx context.Context, msg Message) error {
	msgID, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pgmq message id %q: %w", msg.ID, err)
	}

	var deleted bool
	err = q.db.GetContext(ctx, &deleted, `SELECT pgmq.delete($1, $2::bigint)`, q.queueName, msgID)
	if err != nil {
		return fmt.Errorf("failed to delete message %d: %w", msgID, err)
	}

	if !deleted {
		q.logger.Debug("Message already deleted",
			slog.String("queue", q.queueName),
			slog.Int64("msg_id", msgID),
		)
	}

	return nil
}

// AckArchive moves a message to the pgmq archive table for inspection
func (q *PGMQ) AckArchive(ctx context.Context, msg Message) error {
	msgID, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pgmq message id %q: %w", msg.ID, err)
	}

	var archived bool
	err = q.db.GetContext(ctx, &archived, `SELECT pgmq.archive($1, $2::bigint)`, q.queueName, msgID)
	if err != nil {
		return fmt.Errorf("failed to archive message %d: %w", msgID, err)
	}

	if !archived {
		q.logger.Debug("Message already archived or deleted",
			slog.String("queue", q.queueName),
			slog.Int64("msg_id", msgID),
		)
	}

	return nil
}

// Send enqueues a new message
func (q *PGMQ) Send(ctx context.Context, payload json.RawMessage) error {
	var msgID int64
	err := q.db.GetContext(ctx, &msgID, `SELECT pgmq.send($1, $2::jsonb)`, q.queueName, payload)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	q.logger.Debug("Message enqueued",
		slog.String("queue", q.queueName),
		slog.Int64("msg_id", msgID),
	)

	return nil
}

// HealthCheck verifies the queue exists and answers
func (q *PGMQ) HealthCheck(ctx context.Context) error {
	var n int64
	err := q.db.GetContext(ctx, &n, `SELECT count(*) FROM pgmq.metrics($1)`, q.queueName)
	if err != nil {
		return fmt.Errorf("pgmq health check failed: %w", err)
	}
	return nil
}
