// Package telemetry exposes the OpenTelemetry instruments recorded by the
// relay and the post-session processor. Instruments come from the global
// meter provider and are no-ops until an SDK is installed.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chatrelay"

// Outcome attribute values.
const (
	OutcomeClean        = "clean"
	OutcomeDisconnected = "disconnected"
	OutcomeError        = "error"
	OutcomeSummarized   = "summarized"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
)

// Metrics holds the chatrelay instruments. A nil *Metrics records nothing.
type Metrics struct {
	sessionsOpened   metric.Int64Counter
	sessionsClosed   metric.Int64Counter
	tokensRelayed    metric.Int64Counter
	toolsInvoked     metric.Int64Counter
	postprocRuns     metric.Int64Counter
	postprocDuration metric.Float64Histogram
}

// New creates the instruments on the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates the instruments on meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.sessionsOpened, err = meter.Int64Counter("chatrelay.sessions.opened",
		metric.WithDescription("Relay sessions that reached the active state")); err != nil {
		return nil, err
	}
	if m.sessionsClosed, err = meter.Int64Counter("chatrelay.sessions.closed",
		metric.WithDescription("Relay sessions that reached the closed state")); err != nil {
		return nil, err
	}
	if m.tokensRelayed, err = meter.Int64Counter("chatrelay.tokens.relayed",
		metric.WithDescription("Token frames forwarded to clients")); err != nil {
		return nil, err
	}
	if m.toolsInvoked, err = meter.Int64Counter("chatrelay.tools.invoked",
		metric.WithDescription("Demo tool invocations")); err != nil {
		return nil, err
	}
	if m.postprocRuns, err = meter.Int64Counter("chatrelay.postproc.runs",
		metric.WithDescription("Post-session processing runs")); err != nil {
		return nil, err
	}
	if m.postprocDuration, err = meter.Float64Histogram("chatrelay.postproc.duration",
		metric.WithDescription("Post-session processing wall time"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// SessionOpened records a session entering the active state.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsOpened.Add(ctx, 1)
}

// SessionClosed records a session reaching the closed state.
func (m *Metrics) SessionClosed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// TokensRelayed records n forwarded token frames.
func (m *Metrics) TokensRelayed(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensRelayed.Add(ctx, int64(n))
}

// ToolInvoked records one tool call.
func (m *Metrics) ToolInvoked(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.toolsInvoked.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// PostprocRun records a finished processing run and its wall time.
func (m *Metrics) PostprocRun(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.postprocRuns.Add(ctx, 1, attrs)
	m.postprocDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
