// Package main is the entrypoint for the Event Worker Lambda function.
//
// The worker consumes business events from the events SQS queue and pushes
// them through the delivery guard (debounce, circuit admission, fan-out to
// the notification store and toast stack). Each invocation receives a batch
// of SQS messages; messages that fail processing are reported via partial
// batch responses so SQS retries only those.
//
// Cold start:
//  1. Initialize structured logger.
//  2. Load configuration and AWS SDK configuration.
//  3. Connect the database pool (archive sink, fallback event source).
//  4. Assemble store, toast dispatcher, guard, and CloudWatch metrics.
//  5. Register the handler and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"sabiops/internal/config"
	"sabiops/internal/db"
	"sabiops/internal/notifications/guard"
	"sabiops/internal/notifications/store"
	"sabiops/internal/notifications/toast"
	"sabiops/internal/queue"
	"sabiops/internal/types"
)

// Handler holds the dependencies for the event worker Lambda handler.
type Handler struct {
	guard  *guard.Guard
	logger types.Logger
}

// Handle processes an SQS event containing one or more queued business
// events. Messages are processed independently; a malformed body is ACKed
// rather than retried, since redelivery cannot fix a parse failure.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage delivers a single queued event through the guard.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg queue.EventMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal event message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure: ACK, do not retry.
		return nil
	}

	logger := h.logger.With(
		"trace_id", msg.TraceID,
		"account_id", msg.AccountID,
		"event_type", string(msg.Event.Type),
		"reference_id", msg.Event.ReferenceID,
	)

	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sentMs, err := strconv.ParseInt(sentTimestamp, 10, 64); err == nil {
			lag := time.Since(time.UnixMilli(sentMs))
			logger.Info("processing event message", "queue_lag_ms", lag.Milliseconds())
		}
	} else {
		logger.Info("processing event message")
	}

	ctx = types.WithRequestID(ctx, msg.TraceID)
	// The envelope owns the tenant identity: the queued event surfaces under
	// the account it was published for.
	msg.Event.AccountID = msg.AccountID
	delivered := h.guard.Deliver(ctx, msg.Event)
	if !delivered {
		// Suppressed by debounce, dedup, or an open circuit. The guard has
		// already accounted for it; nothing to retry.
		logger.Info("event not surfaced")
	}

	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	coreLogger := types.NewSlogLogger(logger)
	clock := types.RealClock{}

	logger.Info("event worker initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Reveal())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	err = pool.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	metrics := guard.NewCloudWatchDeliveryMetrics(cwClient, cfg.AWS.MetricNamespace, coreLogger)
	archiver := store.NewZstdArchiver(db.NewNotificationArchiveRepo(pool), coreLogger)
	notifStore := store.NewStore(store.Options{
		DedupWindow: cfg.Notify.DedupWindow,
		MaxStored:   cfg.Notify.MaxStored,
		Retention:   cfg.Notify.Retention,
	}, clock, archiver, coreLogger)
	toasts := toast.NewDispatcher(nil, clock, coreLogger)

	deliveryGuard := guard.NewGuard(
		notifStore,
		toasts,
		db.NewPendingEventRepo(pool),
		metrics,
		clock,
		coreLogger,
		guard.Options{
			DebounceWindow:   cfg.Guard.DebounceWindow,
			FailureThreshold: uint32(cfg.Guard.FailureThreshold),
			Cooldown:         cfg.Guard.Cooldown,
			PollInterval:     cfg.Guard.PollInterval,
		},
	)

	handler := &Handler{
		guard:  deliveryGuard,
		logger: coreLogger,
	}

	logger.Info("event worker initialized, starting handler")
	lambda.Start(handler.Handle)
}
