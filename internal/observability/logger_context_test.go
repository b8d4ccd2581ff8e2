package observability_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperta-labs/bloghound/internal/observability"
)

func TestLoggerFromContextReturnsDefaultWhenAbsent(t *testing.T) {
	t.Parallel()

	lg := observability.LoggerFromContext(context.Background())
	assert.Equal(t, slog.Default(), lg)
}

func TestContextWithLoggerRoundTrips(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(nil, nil))
	ctx := observability.ContextWithLogger(context.Background(), custom)
	assert.Same(t, custom, observability.LoggerFromContext(ctx))
}

func TestContextWithLoggerIgnoresNilLogger(t *testing.T) {
	t.Parallel()

	ctx := observability.ContextWithLogger(context.Background(), nil)
	assert.Equal(t, slog.Default(), observability.LoggerFromContext(ctx))
}

func TestRequestIDFromContextRoundTrips(t *testing.T) {
	t.Parallel()

	ctx := observability.ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", observability.RequestIDFromContext(ctx))
}

func TestRequestIDFromContextEmptyWhenAbsent(t *testing.T) {
	t.Parallel()

	assert.Empty(t, observability.RequestIDFromContext(context.Background()))
}

func TestContextWithRequestIDIgnoresEmptyValue(t *testing.T) {
	t.Parallel()

	ctx := observability.ContextWithRequestID(context.Background(), "")
	assert.Empty(t, observability.RequestIDFromContext(ctx))
}

func TestNewLoggerUsesTextHandlerInDev(t *testing.T) {
	t.Parallel()

	lg := observability.NewLogger("dev", "bloghound")
	assert.NotNil(t, lg)
}

func TestNewLoggerUsesJSONHandlerInProd(t *testing.T) {
	t.Parallel()

	lg := observability.NewLogger("prod", "bloghound")
	assert.NotNil(t, lg)
}
