package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// PutMetricDataAPI is the subset of the CloudWatch client used here
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics sends metrics to CloudWatch. Without a client every call is a
// no-op. Send failures are logged and never returned.
type Metrics struct {
	namespace string
	client    PutMetricDataAPI
	logger    *zap.Logger
	now       func() time.Time
}

// NewMetrics creates a new metrics instance. client may be nil.
func NewMetrics(namespace string, client PutMetricDataAPI, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordCommandExecution records duration and count of a bus dispatch
func (m *Metrics) RecordCommandExecution(ctx context.Context, name string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	dims := dimensions(map[string]string{"Name": name, "Status": status})
	m.put(ctx,
		m.datum("DispatchLatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dims),
		m.datum("DispatchCount", 1, types.StandardUnitCount, dims),
	)
}

// RecordLatency records latency for any operation
func (m *Metrics) RecordLatency(ctx context.Context, operation string, latency time.Duration) {
	m.put(ctx, m.datum("OperationLatency", float64(latency.Milliseconds()), types.StandardUnitMilliseconds,
		dimensions(map[string]string{"Operation": operation})))
}

// RecordCount records a counter with optional dimensions
func (m *Metrics) RecordCount(ctx context.Context, metric string, count float64, dims map[string]string) {
	m.put(ctx, m.datum(metric, count, types.StandardUnitCount, dimensions(dims)))
}

// RecordError records error occurrences
func (m *Metrics) RecordError(ctx context.Context, operation string, errorType string) {
	m.put(ctx, m.datum("Errors", 1, types.StandardUnitCount,
		dimensions(map[string]string{"Operation": operation, "ErrorType": errorType})))
}

func (m *Metrics) datum(name string, value float64, unit types.StandardUnit, dims []types.Dimension) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	}
}

func (m *Metrics) put(ctx context.Context, data ...types.MetricDatum) {
	if m == nil || m.client == nil {
		return
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Warn("failed to send metrics", zap.Error(err))
	}
}

func dimensions(values map[string]string) []types.Dimension {
	dims := make([]types.Dimension, 0, len(values))
	for name, value := range values {
		dims = append(dims, types.Dimension{Name: aws.String(name), Value: aws.String(value)})
	}
	return dims
}
