package otel

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
	// ProtocolStdout writes spans and metrics to stdout, for local debugging.
	ProtocolStdout = "stdout"
)

type ExporterConfig struct {
	Endpoint string
	Protocol string
}

type OpenTelemetryConfig struct {
	ServiceName string
	Traces      *ExporterConfig
	Metrics     *ExporterConfig
}

// SetupOTelSDK installs the global tracer and meter providers for the
// configured exporters. The returned shutdown flushes and stops them.
func SetupOTelSDK(ctx context.Context, config *OpenTelemetryConfig) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceProvider, err := newTraceProvider(ctx, config.Traces, res)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}
	if traceProvider != nil {
		shutdownFuncs = append(shutdownFuncs, traceProvider.Shutdown)
		otel.SetTracerProvider(traceProvider)
	}

	meterProvider, err := newMeterProvider(ctx, config.Metrics, res)
	if err != nil {
		handleErr(err)
		return shutdown, err
	}
	if meterProvider != nil {
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	return shutdown, nil
}

func newTraceProvider(ctx context.Context, c *ExporterConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	if c == nil {
		return nil, nil
	}

	var err error
	var traceExporter trace.SpanExporter
	switch c.Protocol {
	case ProtocolStdout:
		traceExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ProtocolGRPC:
		traceExporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(c.Endpoint),
		)
	default:
		traceExporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithEndpointURL(ensureHTTPEndpoint("traces", c.Endpoint)),
		)
	}
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(traceExporter, trace.WithBatchTimeout(time.Second)),
	), nil
}

func newMeterProvider(ctx context.Context, c *ExporterConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	if c == nil {
		return nil, nil
	}

	var err error
	var metricExporter metric.Exporter
	switch c.Protocol {
	case ProtocolStdout:
		metricExporter, err = stdoutmetric.New()
	case ProtocolGRPC:
		metricExporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(c.Endpoint),
		)
	default:
		metricExporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithInsecure(),
			otlpmetrichttp.WithEndpointURL(ensureHTTPEndpoint("metrics", c.Endpoint)),
		)
	}
	if err != nil {
		return nil, err
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(30*time.Second))),
	), nil
}

// ensureHTTPEndpoint turns "collector:4318" into "http://collector:4318/v1/<signal>".
func ensureHTTPEndpoint(signal string, endpoint string) string {
	fullEndpoint := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		fullEndpoint = "http://" + endpoint
	}
	suffix := "/v1/" + signal
	if !strings.HasSuffix(fullEndpoint, suffix) {
		fullEndpoint = strings.TrimSuffix(fullEndpoint, "/") + suffix
	}
	return fullEndpoint
}
