// Package events publishes job lifecycle notifications so downstream
// consumers can react to finished jobs without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/shared/rabbitmq"
)

// JobEvent is the message published when a job reaches a terminal state
type JobEvent struct {
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Publisher emits job events to a RabbitMQ exchange. A nil Publisher is
// valid and drops every event, which keeps the worker runnable without a
// broker.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher wraps a connected RabbitMQ client
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// JobFinalized publishes a terminal-state event. Publish failures are logged
// and swallowed; event delivery never decides a job's fate.
func (p *Publisher) JobFinalized(ctx context.Context, jobID, kind string, outcome jobstore.Outcome) {
	if p == nil || p.client == nil {
		return
	}

	event := JobEvent{
		JobID:      jobID,
		Kind:       kind,
		Status:     string(outcome.Status),
		Error:      outcome.Error,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode job event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	routingKey := fmt.Sprintf("jobs.%s.%s", kind, outcome.Status)
	if err := p.client.Publish(ctx, routingKey, body); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", jobID),
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", jobID),
		slog.String("routing_key", routingKey),
	)
}
