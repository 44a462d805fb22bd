package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/pkg/errors"
)

type renameCommand struct {
	Name string
}

func (c renameCommand) Validate() error {
	if c.Name == "" {
		return errors.NewValidationError("name is required")
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

func echoHandler() CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
		return "renamed to " + cmd.(renameCommand).Name, nil
	})
}

func TestCommandBus_SendDispatchesToHandler(t *testing.T) {
	b := NewCommandBus()
	require.NoError(t, b.Register(renameCommand{}, echoHandler()))

	result, err := b.Send(context.Background(), renameCommand{Name: "APT28"})
	require.NoError(t, err)
	assert.Equal(t, "renamed to APT28", result)
}

func TestCommandBus_RegisterTwiceFails(t *testing.T) {
	b := NewCommandBus()
	require.NoError(t, b.Register(renameCommand{}, echoHandler()))
	assert.Error(t, b.Register(renameCommand{}, echoHandler()))
}

func TestCommandBus_ValidationRunsBeforeDispatch(t *testing.T) {
	called := false
	b := NewCommandBus()
	require.NoError(t, b.Register(renameCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
		called = true
		return nil, nil
	})))

	_, err := b.Send(context.Background(), renameCommand{})
	assert.True(t, errors.IsValidation(err))
	assert.False(t, called)
}

func TestCommandBus_UnregisteredCommand(t *testing.T) {
	_, err := NewCommandBus().Send(context.Background(), renameCommand{Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestCommandBus_MiddlewareOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next CommandHandler) CommandHandler {
			return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
				trace = append(trace, name)
				return next.Handle(ctx, cmd)
			})
		}
	}

	b := NewCommandBus(mark("outer"), mark("inner"), LoggingMiddleware(zap.NewNop()))
	require.NoError(t, b.Register(renameCommand{}, echoHandler()))

	_, err := b.Send(context.Background(), renameCommand{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, trace)
}

func TestMetricsMiddleware_RecordsLatencyAndErrorType(t *testing.T) {
	metrics := &mockMetrics{}
	metrics.On("RecordLatency", mock.Anything, "renameCommand", mock.AnythingOfType("time.Duration")).Twice()
	metrics.On("RecordError", mock.Anything, "renameCommand", string(errors.ErrorTypeNotFound)).Once()

	fail := false
	b := NewCommandBus(MetricsMiddleware(metrics))
	require.NoError(t, b.Register(renameCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
		if fail {
			return nil, errors.NewNotFoundError("entity")
		}
		return "ok", nil
	})))

	_, err := b.Send(context.Background(), renameCommand{Name: "x"})
	require.NoError(t, err)

	fail = true
	_, err = b.Send(context.Background(), renameCommand{Name: "x"})
	assert.True(t, errors.IsNotFound(err))

	metrics.AssertExpectations(t)
}
