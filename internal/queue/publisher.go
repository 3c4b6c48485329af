// Package queue provides the SQS-based event producer that hands inbound
// business events to the asynchronous delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"sabiops/internal/config"
	"sabiops/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventMessage is the queue envelope around a business event. EnqueuedAt
// lets the worker measure queue lag; TraceID carries the request trace
// across the async boundary.
type EventMessage struct {
	TraceID    string      `json:"trace_id"`
	AccountID  string      `json:"account_id"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Event      types.Event `json:"event"`
}

// EventPublisher serializes business events and sends them to the events
// queue for the delivery worker. Publishing is fire-and-forget from the
// producer's perspective; delivery guarantees live in SQS and the worker.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEventPublisher creates an EventPublisher reading the queue URL from
// AWS configuration.
func NewEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		client:   client,
		queueURL: awsCfg.EventQueueURL,
		logger:   logger,
	}
}

// Publish enqueues one event for asynchronous delivery. The source
// attribute identifies the producer for queue-side filtering and debugging.
func (p *EventPublisher) Publish(ctx context.Context, accountID string, ev types.Event, source string) error {
	traceID := types.GetRequestID(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}

	msg := EventMessage{
		TraceID:    traceID,
		AccountID:  accountID,
		EnqueuedAt: time.Now().UTC(),
		Event:      ev,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal EventMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(source),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send event to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "event message sent",
		"queue_url", p.queueURL,
		"trace_id", msg.TraceID,
		"account_id", accountID,
		"event_type", string(ev.Type),
		"reference_id", ev.ReferenceID,
		"source", source,
	)

	return nil
}
