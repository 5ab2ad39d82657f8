package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

const instrumentationName = "github.com/fyrsmithlabs/autopilot/internal/mcp"

// toolMetrics measures tool calls by tool name and outcome.
type toolMetrics struct {
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newToolMetrics creates the instruments on meter. On failure the returned
// metrics are backed by a no-op meter and the error lists every failed instrument.
func newToolMetrics(meter metric.Meter) (*toolMetrics, error) {
	var m toolMetrics
	var errs, err error

	m.calls, err = meter.Int64Counter("autopilot.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and result (success or error class)"),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	m.errors, err = meter.Int64Counter("autopilot.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and error class"),
		metric.WithUnit("{error}"))
	errs = errors.Join(errs, err)

	m.duration, err = meter.Float64Histogram("autopilot.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency; commit calls include staging and the secret scan"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	errs = errors.Join(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("autopilot.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls currently running"),
		metric.WithUnit("{call}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		fallback, _ := newToolMetrics(noop.NewMeterProvider().Meter(instrumentationName))
		return fallback, errs
	}
	return &m, nil
}

// begin marks a call to tool as running. The returned function ends it and
// records its outcome.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	m.inFlight.Add(ctx, 1, toolAttr)

	return func(err error) {
		m.inFlight.Add(ctx, -1, toolAttr)
		m.duration.Record(ctx, time.Since(start).Seconds(), toolAttr)

		result := "success"
		if err != nil {
			result = string(autopilot.Classify(err))
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", result)))
		}
		m.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("result", result)))
	}
}
