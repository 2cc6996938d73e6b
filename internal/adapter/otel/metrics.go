// Package otel provides the OpenTelemetry metric instruments and
// exporter setup for the terminal core.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/session"
)

const meterName = "terminal-core"

// Metrics holds all metric instruments and implements service.Metrics.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionsFailed    metric.Int64Counter
	SessionsCancelled metric.Int64Counter
	ToolCalls         metric.Int64Counter
	EventsAppended    metric.Int64Counter
	SessionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("terminal.sessions.started",
		metric.WithDescription("Number of generation sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("terminal.sessions.completed",
		metric.WithDescription("Number of sessions that reached a clean done event"))
	if err != nil {
		return nil, err
	}

	m.SessionsFailed, err = meter.Int64Counter("terminal.sessions.failed",
		metric.WithDescription("Number of sessions terminated by a stream error"))
	if err != nil {
		return nil, err
	}

	m.SessionsCancelled, err = meter.Int64Counter("terminal.sessions.cancelled",
		metric.WithDescription("Number of sessions stopped by an explicit cancel"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("terminal.toolcalls",
		metric.WithDescription("Number of tool invocations"))
	if err != nil {
		return nil, err
	}

	m.EventsAppended, err = meter.Int64Counter("terminal.events.appended",
		metric.WithDescription("Number of events committed to the session log"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("terminal.session.duration_seconds",
		metric.WithDescription("Session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SessionStarted records one session start.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.SessionsStarted.Add(ctx, 1)
}

// SessionEnded records the terminal state and duration of a session.
func (m *Metrics) SessionEnded(ctx context.Context, state session.State, duration time.Duration) {
	switch state {
	case session.StateCompleted:
		m.SessionsCompleted.Add(ctx, 1)
	case session.StateFailed:
		m.SessionsFailed.Add(ctx, 1)
	case session.StateCancelled:
		m.SessionsCancelled.Add(ctx, 1)
	}
	m.SessionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("state", string(state))))
}

// ToolCall records one tool invocation and its outcome.
func (m *Metrics) ToolCall(ctx context.Context, name string, ok bool) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.Bool("ok", ok),
	))
}

// EventAppended records one committed event by kind.
func (m *Metrics) EventAppended(ctx context.Context, kind string) {
	m.EventsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
