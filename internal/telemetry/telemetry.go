// Package telemetry constructs the logger, tracer and instruments shared by
// the service and its adapters.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xiaot623/gogo/runhook"

// Metric names.
const (
	MetricIncrementalFallback = "runhook.storage.incremental_fallback"
	MetricCallbackDeliveries  = "runhook.callback.deliveries"
)

// Telemetry bundles the tracer and instruments.
type Telemetry struct {
	Tracer trace.Tracer

	// IncrementalFallbacks counts prepare requests whose base manifest could
	// not be loaded and were treated as full uploads.
	IncrementalFallbacks metric.Int64Counter
	// CallbackDeliveries counts delivery attempts by outcome.
	CallbackDeliveries metric.Int64Counter
}

// New creates telemetry from the given providers. Nil providers fall back
// to noop implementations.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	fallbacks, err := meter.Int64Counter(MetricIncrementalFallback,
		metric.WithDescription("Incremental prepare requests that fell back to a full upload"))
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricIncrementalFallback, err)
	}
	deliveries, err := meter.Int64Counter(MetricCallbackDeliveries,
		metric.WithDescription("Callback delivery attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricCallbackDeliveries, err)
	}

	return &Telemetry{
		Tracer:               tp.Tracer(instrumentationName),
		IncrementalFallbacks: fallbacks,
		CallbackDeliveries:   deliveries,
	}, nil
}

// Noop returns telemetry that records nothing.
func Noop() *Telemetry {
	t, _ := New(nil, nil)
	return t
}

// NewLogger creates a leveled logger tagged with component.
func NewLogger(rawLevel, component string) (*log.Logger, error) {
	return newLogger(os.Stderr, rawLevel, component)
}

func newLogger(w io.Writer, rawLevel, component string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", rawLevel, err)
	}
	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       log.TextFormatter,
		ReportTimestamp: true,
	})
	return logger.With("component", component), nil
}

// DiscardLogger returns a logger that writes nowhere. Used by tests.
func DiscardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.DebugLevel})
}
