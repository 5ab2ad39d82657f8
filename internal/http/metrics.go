package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/fyrsmithlabs/autopilot/internal/http"

// errorKindKey is the echo context key under which failing handlers leave the
// error class of their response.
const errorKindKey = "autopilot.error_kind"

type requestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	var m requestMetrics
	var errs, err error

	m.requests, err = meter.Int64Counter("autopilot.http.requests_total",
		metric.WithDescription("Workflow API requests by route, method, status class and error kind"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	m.latency, err = meter.Float64Histogram("autopilot.http.request_duration_seconds",
		metric.WithDescription("Workflow API latency by route and method"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.025, 0.1, 0.25, 1, 2.5, 10))
	errs = errors.Join(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("autopilot.http.in_flight",
		metric.WithDescription("Workflow API requests being served"),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		fallback, _ := newRequestMetrics(noop.NewMeterProvider().Meter(instrumentationName))
		return fallback, errs
	}
	return &m, nil
}

// middleware records one observation per request once the response status is
// final. Unmatched requests share the "/" route label.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)

			if err := next(c); err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "/"
			}
			base := []attribute.KeyValue{
				attribute.String("route", route),
				attribute.String("method", c.Request().Method),
			}
			m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(base...))

			kind, _ := c.Get(errorKindKey).(string)
			if kind == "" {
				kind = "none"
			}
			m.requests.Add(ctx, 1, metric.WithAttributes(append(base,
				attribute.String("status_class", statusClass(c.Response().Status)),
				attribute.String("kind", kind))...))
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
