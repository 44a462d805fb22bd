package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Cix-16/opencti/pkg/errors"
)

type lookupQuery struct {
	ID string
}

func (q lookupQuery) Validate() error {
	if q.ID == "" {
		return errors.NewValidationError("id is required")
	}
	return nil
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordLatency(ctx context.Context, operation string, duration time.Duration) {
	m.Called(ctx, operation, duration)
}

func (m *mockMetrics) RecordCount(ctx context.Context, metric string, count float64, dimensions map[string]string) {
	m.Called(ctx, metric, count, dimensions)
}

func (m *mockMetrics) RecordError(ctx context.Context, operation string, errorType string) {
	m.Called(ctx, operation, errorType)
}

func TestQueryBus_Ask(t *testing.T) {
	metrics := &mockMetrics{}
	metrics.On("RecordLatency", mock.Anything, "lookupQuery", mock.AnythingOfType("time.Duration")).Once()

	b := NewQueryBus(MetricsMiddleware(metrics))
	require.NoError(t, b.Register(lookupQuery{}, QueryHandlerFunc(func(ctx context.Context, q Query) (interface{}, error) {
		return "found " + q.(lookupQuery).ID, nil
	})))

	result, err := b.Ask(context.Background(), lookupQuery{ID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, "found ws-1", result)
	metrics.AssertExpectations(t)
}

func TestQueryBus_Errors(t *testing.T) {
	b := NewQueryBus()

	_, err := b.Ask(context.Background(), lookupQuery{ID: "ws-1"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))

	_, err = b.Ask(context.Background(), lookupQuery{})
	assert.True(t, errors.IsValidation(err))

	handler := QueryHandlerFunc(func(ctx context.Context, q Query) (interface{}, error) { return nil, nil })
	require.NoError(t, b.Register(lookupQuery{}, handler))
	assert.Error(t, b.Register(lookupQuery{}, handler))
}
