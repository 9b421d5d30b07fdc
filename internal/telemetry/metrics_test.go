package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.SessionOpened(ctx)
		m.SessionClosed(ctx, OutcomeClean)
		m.TokensRelayed(ctx, 3)
		m.ToolInvoked(ctx, "get_weather")
		m.PostprocRun(ctx, OutcomeSummarized, 25*time.Millisecond)
	})
}

func TestNewWithMeter(t *testing.T) {
	m, err := NewWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	assert.NotNil(t, m.postprocDuration)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.SessionOpened(ctx)
		m.SessionClosed(ctx, OutcomeError)
		m.TokensRelayed(ctx, 1)
		m.ToolInvoked(ctx, "search_database")
		m.PostprocRun(ctx, OutcomeFailed, time.Second)
	})
}
