// Package observability sets up OpenTelemetry tracing for adsync runs.
//
// Spans are exported with the stdout exporter, either to standard output or
// to a file. When tracing is disabled the global no-op provider stays in place
// and the span helpers cost nothing.
package observability

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
)

const tracerName = "github.com/ajitpratap0/adsync"

// Attribute keys shared by the span helpers
const (
	AttrResource   = attribute.Key("adsync.resource")
	AttrCustomerID = attribute.Key("adsync.customer_id")
	AttrRunID      = attribute.Key("adsync.run_id")
	AttrQuery      = attribute.Key("adsync.gaql")
	AttrSink       = attribute.Key("adsync.sink")
	AttrRows       = attribute.Key("adsync.rows")
)

// TracingConfig configures the tracer provider
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate is the fraction of traces kept; 0 or 1 keeps everything
	SamplingRate float64
	// Output is a file path, or "stdout"/"" for standard output
	Output string
	// Writer overrides Output
	Writer io.Writer
}

// FromConfig derives the tracing settings of a run
func FromConfig(cfg *config.Config, version string) TracingConfig {
	return TracingConfig{
		ServiceName:    "adsync",
		ServiceVersion: version,
		Environment:    os.Getenv("ADSYNC_ENV"),
		SamplingRate:   cfg.Observability.TracingSampleRate,
		Output:         cfg.Observability.TracingOutput,
	}
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	output   io.Closer
)

// Init installs a global tracer provider. Calling it again replaces the
// previous provider after flushing it.
func Init(ctx context.Context, cfg TracingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if provider != nil {
		if err := shutdownLocked(ctx); err != nil {
			logger.Warn("failed to shut down previous tracer provider", zap.Error(err))
		}
	}

	w := cfg.Writer
	var closer io.Closer
	if w == nil {
		switch cfg.Output {
		case "", "stdout":
			w = os.Stdout
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "failed to open tracing output").
					WithDetail("path", cfg.Output)
			}
			w, closer = f, f
		}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create trace resource")
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	)
	output = closer
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized",
		zap.String("output", cfg.Output),
		zap.Float64("sampling_rate", cfg.SamplingRate))
	return nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans. Spans started afterwards are dropped.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	return shutdownLocked(ctx)
}

func shutdownLocked(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	if output != nil {
		if cerr := output.Close(); err == nil {
			err = cerr
		}
		output = nil
	}
	return err
}

// Tracer returns the adsync tracer of the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartResourceSpan opens the span covering one resource extraction
func StartResourceSpan(ctx context.Context, runID, customerID, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "extract "+name, trace.WithAttributes(
		AttrRunID.String(runID),
		AttrCustomerID.String(customerID),
		AttrResource.String(name),
	))
}

// StartQuerySpan opens the span of one GAQL query
func StartQuerySpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "query "+name, trace.WithAttributes(
		AttrResource.String(name),
		AttrQuery.String(query),
	), trace.WithSpanKind(trace.SpanKindClient))
}

// StartSinkSpan opens the span of one batch load
func StartSinkSpan(ctx context.Context, sink, name string, rows int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "load "+name, trace.WithAttributes(
		AttrSink.String(sink),
		AttrResource.String(name),
		AttrRows.Int(rows),
	), trace.WithSpanKind(trace.SpanKindProducer))
}

// End records err on the span, if any, and ends it
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
