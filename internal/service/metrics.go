package service

import (
	"context"
	"time"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/session"
)

// Metrics receives the core's counters. Implemented by adapter/otel;
// NopMetrics keeps the core runnable without telemetry.
type Metrics interface {
	SessionStarted(ctx context.Context)
	SessionEnded(ctx context.Context, state session.State, duration time.Duration)
	ToolCall(ctx context.Context, name string, ok bool)
	EventAppended(ctx context.Context, kind string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) SessionStarted(context.Context)                             {}
func (NopMetrics) SessionEnded(context.Context, session.State, time.Duration) {}
func (NopMetrics) ToolCall(context.Context, string, bool)                     {}
func (NopMetrics) EventAppended(context.Context, string)                      {}
