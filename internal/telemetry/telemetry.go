package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the signal providers of one autopilot process.
//
// A signal whose exporter cannot be created is left on the global no-op
// provider and recorded; the process keeps running in degraded mode.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	mu       sync.Mutex
	failures []error
	stopped  bool
}

// New validates cfg and, when enabled, starts the exporters and installs the
// trace and metric providers globally.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg}
	if cfg.Enabled {
		t.start(ctx, newResource(cfg))
	}
	return t, nil
}

func (t *Telemetry) start(ctx context.Context, res *resource.Resource) {
	tp, err := newTracerProvider(ctx, t.config, res)
	t.fail("traces", err)
	if err == nil {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if t.config.Metrics {
		mp, err := newMeterProvider(ctx, t.config, res)
		t.fail("metrics", err)
		if err == nil {
			t.meterProvider = mp
			otel.SetMeterProvider(mp)
		}
	}

	if t.config.Logs {
		lp, err := newLoggerProvider(ctx, t.config, res)
		t.fail("logs", err)
		if err == nil {
			t.loggerProvider = lp
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
}

func (t *Telemetry) fail(signal string, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.failures = append(t.failures, fmt.Errorf("%s: %w", signal, err))
	t.mu.Unlock()
}

// Tracer returns a tracer from this instance, or from the global provider when
// tracing is off.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t != nil && t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name, opts...)
	}
	return otel.GetTracerProvider().Tracer(name, opts...)
}

// Meter returns a meter from this instance, or from the global provider when
// metrics are off.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t != nil && t.meterProvider != nil {
		return t.meterProvider.Meter(name, opts...)
	}
	return otel.GetMeterProvider().Meter(name, opts...)
}

// LoggerProvider feeds the otelzap bridge. It is nil unless log export runs.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// Enabled reports whether export is configured and Shutdown has not run.
func (t *Telemetry) Enabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Enabled && !t.stopped
}

// Degraded reports whether any signal failed to start, and why.
func (t *Telemetry) Degraded() (bool, error) {
	if t == nil {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures) > 0, errors.Join(t.failures...)
}

// ForceFlush exports everything buffered.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, p := range t.namedProviders() {
		errs = append(errs, p.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider once. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownAfter)
		defer cancel()
	}
	var errs []error
	for name, p := range t.namedProviders() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type provider interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

func (t *Telemetry) namedProviders() map[string]provider {
	out := make(map[string]provider, 3)
	if t.tracerProvider != nil {
		out["trace"] = t.tracerProvider
	}
	if t.meterProvider != nil {
		out["meter"] = t.meterProvider
	}
	if t.loggerProvider != nil {
		out["logger"] = t.loggerProvider
	}
	return out
}
