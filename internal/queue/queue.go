// Package queue defines the contract over the durable at-least-once queue
// the worker pulls from, plus its pgmq and SQS implementations.
//
// Delivery is at-least-once: a message can reappear after its visibility
// timeout or after a crash between dequeue and ack. Correctness never comes
// from the queue; it comes from the job store's claim.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mediaflow/jobqueue/internal/config"
)

// Message is one delivery borrowed from the queue for the duration of a
// visibility window. ID is an opaque per-delivery handle, not a job id.
type Message struct {
	ID            string
	DeliveryCount int
	EnqueuedAt    time.Time
	Payload       json.RawMessage
}

// Gateway is the narrow contract the worker needs from the queue
type Gateway interface {
	// Dequeue returns up to maxCount messages, each invisible to other
	// consumers until the visibility timeout elapses. An empty queue yields
	// an empty slice, never an error.
	Dequeue(ctx context.Context, visibility time.Duration, maxCount int) ([]Message, error)

	// AckDelete permanently removes a handled message. Idempotent.
	AckDelete(ctx context.Context, msg Message) error

	// AckArchive moves a message to the dead-letter area for manual
	// inspection. Idempotent.
	AckArchive(ctx context.Context, msg Message) error
}

// Sender enqueues new messages; used by the API's job-creation path
type Sender interface {
	Send(ctx context.Context, payload json.RawMessage) error
}

// NewGateway builds the configured queue driver
func NewGateway(cfg *config.QueueConfig, db *sqlx.DB, logger *slog.Logger) (Gateway, error) {
	switch cfg.Driver {
	case "pgmq":
		return NewPGMQ(db, cfg.Name, logger), nil
	case "sqs":
		return NewSQS(&cfg.SQS, logger)
	default:
		return nil, fmt.Errorf("unknown queue driver: %q", cfg.Driver)
	}
}
