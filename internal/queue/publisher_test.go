package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"sabiops/internal/config"
	"sabiops/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testEventQueueURL = "https://sqs.eu-west-1.amazonaws.com/123456789/sabiops-events"

func newTestPublisher(mock *mockSQSSender) *EventPublisher {
	awsCfg := config.AWSConfig{EventQueueURL: testEventQueueURL}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEventPublisher(mock, awsCfg, logger)
}

func paidInvoiceEvent() types.Event {
	return types.Event{
		Type:        types.EventInvoicePaid,
		ReferenceID: "inv_1",
		Message:     "Invoice INV-001 was paid",
	}
}

func TestPublish_SendsToEventQueue(t *testing.T) {
	mock := &mockSQSSender{}
	publisher := newTestPublisher(mock)

	err := publisher.Publish(context.Background(), "acc_1", paidInvoiceEvent(), "api")
	if err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testEventQueueURL {
		t.Errorf("expected queue URL %q, got %q", testEventQueueURL, *mock.calls[0].QueueUrl)
	}
}

func TestPublish_EnvelopeCarriesEventAndAccount(t *testing.T) {
	mock := &mockSQSSender{}
	publisher := newTestPublisher(mock)

	before := time.Now().UTC()
	err := publisher.Publish(context.Background(), "acc_1", paidInvoiceEvent(), "api")
	if err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}
	after := time.Now().UTC()

	var msg EventMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.AccountID != "acc_1" {
		t.Errorf("AccountID mismatch: got %q, want %q", msg.AccountID, "acc_1")
	}
	if msg.Event.Type != types.EventInvoicePaid {
		t.Errorf("event type mismatch: got %q", msg.Event.Type)
	}
	if msg.Event.ReferenceID != "inv_1" {
		t.Errorf("reference id mismatch: got %q", msg.Event.ReferenceID)
	}
	if msg.EnqueuedAt.Before(before) || msg.EnqueuedAt.After(after) {
		t.Errorf("EnqueuedAt %v not in expected range [%v, %v]", msg.EnqueuedAt, before, after)
	}
}

func TestPublish_PropagatesTraceIDFromContext(t *testing.T) {
	mock := &mockSQSSender{}
	publisher := newTestPublisher(mock)

	ctx := types.WithRequestID(context.Background(), "trace_42")
	if err := publisher.Publish(ctx, "acc_1", paidInvoiceEvent(), "api"); err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}

	var msg EventMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if msg.TraceID != "trace_42" {
		t.Errorf("expected trace id from context, got %q", msg.TraceID)
	}
}

func TestPublish_GeneratesTraceIDWhenContextHasNone(t *testing.T) {
	mock := &mockSQSSender{}
	publisher := newTestPublisher(mock)

	if err := publisher.Publish(context.Background(), "acc_1", paidInvoiceEvent(), "watcher"); err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}

	var msg EventMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if msg.TraceID == "" {
		t.Error("expected non-empty generated TraceID")
	}
}

func TestPublish_SetsSourceMessageAttribute(t *testing.T) {
	mock := &mockSQSSender{}
	publisher := newTestPublisher(mock)

	if err := publisher.Publish(context.Background(), "acc_1", paidInvoiceEvent(), "reconciler"); err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}

	attr, ok := mock.calls[0].MessageAttributes["source"]
	if !ok {
		t.Fatal("expected 'source' message attribute to be set")
	}
	if *attr.StringValue != "reconciler" {
		t.Errorf("expected source attribute %q, got %q", "reconciler", *attr.StringValue)
	}
	if *attr.DataType != "String" {
		t.Errorf("expected DataType 'String', got %q", *attr.DataType)
	}
}

func TestPublish_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: fmt.Errorf("access denied")}
	publisher := newTestPublisher(mock)

	err := publisher.Publish(context.Background(), "acc_1", paidInvoiceEvent(), "api")
	if err == nil {
		t.Fatal("expected error from Publish, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected code %q, got %q", types.ErrCodeUpstreamQueue, appErr.Code)
	}
	if !strings.Contains(err.Error(), testEventQueueURL) {
		t.Errorf("expected error message to contain queue URL, got %q", err.Error())
	}
}
