package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mediaflow/jobqueue/internal/config"
)

// SQS is a gateway over an AWS SQS queue. Delivery count comes from the
// ApproximateReceiveCount system attribute; archive copies the body to a
// dead-letter queue and deletes the original.
type SQS struct {
	client         *awssqs.Client
	queueURL       string
	deadLetterURL  string
	waitTime       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewSQS creates an SQS-backed gateway. Custom endpoints (localstack) and
// static credentials are supported for development setups.
func NewSQS(cfg *config.SQSConfig, logger *slog.Logger) (*SQS, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue URL is required")
	}
	if cfg.DeadLetterURL == "" {
		return nil, fmt.Errorf("sqs dead letter queue URL is required")
	}

	waitTime := cfg.WaitTime
	if waitTime <= 0 {
		waitTime = 10 * time.Second
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*awssqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &SQS{
		client:         awssqs.NewFromConfig(awsCfg, opts...),
		queueURL:       cfg.QueueURL,
		deadLetterURL:  cfg.DeadLetterURL,
		waitTime:       waitTime,
		requestTimeout: requestTimeout,
		logger:         logger,
	}, nil
}

// Dequeue receives up to maxCount messages with the given visibility timeout
func (q *SQS) Dequeue(ctx context.Context, visibility time.Duration, maxCount int) ([]Message, error) {
	if maxCount > 10 {
		maxCount = 10 // SQS receive ceiling
	}

	recvCtx, cancel := context.WithTimeout(ctx, q.requestTimeout+q.waitTime)
	defer cancel()

	out, err := q.client.ReceiveMessage(recvCtx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxCount),
		WaitTimeSeconds:     int32(q.waitTime.Seconds()),
		VisibilityTimeout:   int32(visibility.Seconds()),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from sqs: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.ReceiptHandle),
			DeliveryCount: receiveCount(m),
			EnqueuedAt:    sentTimestamp(m),
			Payload:       json.RawMessage(aws.ToString(m.Body)),
		})
	}

	return messages, nil
}

// AckDelete removes a message from the queue. SQS treats deleting an expired
// or already-deleted receipt handle as success, so this is idempotent.
func (q *SQS) AckDelete(ctx context.Context, msg Message) error {
	opCtx, cancel := context.WithTimeout(ctx, q.requestTimeout)
	defer cancel()

	_, err := q.client.DeleteMessage(opCtx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete sqs message: %w", err)
	}

	return nil
}

// AckArchive copies the message body to the dead-letter queue, then deletes
// the original delivery.
func (q *SQS) AckArchive(ctx context.Context, msg Message) error {
	opCtx, cancel := context.WithTimeout(ctx, q.requestTimeout)
	defer cancel()

	_, err := q.client.SendMessage(opCtx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.deadLetterURL),
		MessageBody: aws.String(string(msg.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"delivery_count": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(msg.DeliveryCount)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive sqs message: %w", err)
	}

	return q.AckDelete(ctx, msg)
}

// Send enqueues a new message
func (q *SQS) Send(ctx context.Context, payload json.RawMessage) error {
	opCtx, cancel := context.WithTimeout(ctx, q.requestTimeout)
	defer cancel()

	_, err := q.client.SendMessage(opCtx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("failed to send sqs message: %w", err)
	}

	return nil
}

// HealthCheck verifies the queue is reachable
func (q *SQS) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := q.client.GetQueueAttributes(hcCtx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

func receiveCount(m types.Message) int {
	raw, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func sentTimestamp(m types.Message) time.Time {
	raw, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
