package guard

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sabiops/internal/types"
)

// MetricResult classifies a delivery outcome for telemetry.
type MetricResult string

const (
	ResultSuccess      MetricResult = "success"
	ResultFailure      MetricResult = "failure"
	ResultSuppressed   MetricResult = "suppressed"
	ResultShortCircuit MetricResult = "short_circuit"
)

// DeliveryMetrics records notification delivery telemetry.
type DeliveryMetrics interface {
	// RecordDelivery counts one delivery outcome.
	RecordDelivery(ctx context.Context, result MetricResult)
	// RecordFallbackPoll counts one fallback poll and how many events it
	// fetched.
	RecordFallbackPoll(ctx context.Context, fetched int)
	// RecordToastEviction counts one toast removed without user action.
	RecordToastEviction(ctx context.Context, reason string)
}

// NopDeliveryMetrics discards all telemetry. Used in library-only embedding
// and tests.
type NopDeliveryMetrics struct{}

func (NopDeliveryMetrics) RecordDelivery(ctx context.Context, result MetricResult) {}
func (NopDeliveryMetrics) RecordFallbackPoll(ctx context.Context, fetched int)     {}
func (NopDeliveryMetrics) RecordToastEviction(ctx context.Context, reason string)  {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchDeliveryMetrics emits delivery telemetry to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Result} on every delivery outcome
//   - FallbackPollFetch: event count per fallback poll
//   - ToastEviction: Dims {Reason} on every non-user toast removal
//
// Emission failures are logged and swallowed; telemetry must never affect
// delivery.
type CloudWatchDeliveryMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// Compile-time assertion that CloudWatchDeliveryMetrics implements
// DeliveryMetrics.
var _ DeliveryMetrics = (*CloudWatchDeliveryMetrics)(nil)

// NewCloudWatchDeliveryMetrics creates a metrics emitter publishing to the
// given CloudWatch namespace.
func NewCloudWatchDeliveryMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchDeliveryMetrics {
	return &CloudWatchDeliveryMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt metric with the Result dimension.
func (m *CloudWatchDeliveryMetrics) RecordDelivery(ctx context.Context, result MetricResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("DeliveryAttempt"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Result"),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"result", string(result),
		)
	}
}

// RecordFallbackPoll emits the fetched-event count for one fallback poll.
func (m *CloudWatchDeliveryMetrics) RecordFallbackPoll(ctx context.Context, fetched int) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("FallbackPollFetch"),
				Value:      aws.Float64(float64(fetched)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record fallback poll metric",
			"error", err.Error(),
			"fetched", fetched,
		)
	}
}

// RecordToastEviction emits a ToastEviction metric with the Reason
// dimension ("overflow" or "swept").
func (m *CloudWatchDeliveryMetrics) RecordToastEviction(ctx context.Context, reason string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("ToastEviction"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("Reason"),
						Value: aws.String(reason),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record toast eviction metric",
			"error", err.Error(),
			"reason", reason,
		)
	}
}
