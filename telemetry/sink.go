/*
Package telemetry turns the engines' observability events into logs and
Prometheus metrics.

SINKS:
  LogSink:        one structured slog record per event or failure
  PrometheusSink: counters and histograms keyed by event name
  Multi:          fans every call out to several sinks

The engines only see keyworker.EventSink; cmd/keyworker wires a Multi of the
log and Prometheus sinks.
*/
package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/warp/keyworker-engine/keyworker"
)

var (
	_ keyworker.EventSink = (*LogSink)(nil)
	_ keyworker.EventSink = Multi(nil)
)

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes events at Info and failures at Error.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a sink logging through logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Event(ctx context.Context, name string, attrs map[string]string) {
	s.Logger.LogAttrs(ctx, slog.LevelInfo, name, sortedAttrs(attrs)...)
}

func (s *LogSink) Failure(ctx context.Context, err error, attrs map[string]string) {
	s.Logger.LogAttrs(ctx, slog.LevelError, "job failed",
		append(sortedAttrs(attrs), slog.String("error", err.Error()))...)
}

// sortedAttrs keeps record output stable across map iteration orders.
func sortedAttrs(attrs map[string]string) []slog.Attr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.String(k, attrs[k]))
	}
	return out
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi forwards every call to each non-nil sink in order.
type Multi []keyworker.EventSink

func (m Multi) Event(ctx context.Context, name string, attrs map[string]string) {
	for _, s := range m {
		if s != nil {
			s.Event(ctx, name, attrs)
		}
	}
}

func (m Multi) Failure(ctx context.Context, err error, attrs map[string]string) {
	for _, s := range m {
		if s != nil {
			s.Failure(ctx, err, attrs)
		}
	}
}
