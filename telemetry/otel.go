// Package telemetry wires OTLP log, trace and metric exporters into the process.
package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/agentuity/design-bridge/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type ShutdownFunc func()

// Options configure New
type Options struct {
	// URL is the OTLP/HTTP collector base url; /v1/logs, /v1/traces and /v1/metrics are appended
	URL         string
	Token       string
	ServiceName string
	Version     string
	// Logger receives every record in addition to the collector
	Logger logger.Logger
}

// New installs global tracer and meter providers exporting to the collector and
// returns a logger that writes to both opts.Logger and the collector.
func New(ctx context.Context, opts Options) (logger.Logger, ShutdownFunc, error) {
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing otlp url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, nil, errors.Newf("otlp url must be http or https, got %q", opts.URL)
	}
	logURL := *base
	logURL.Path = "/v1/logs"
	traceURL := *base
	traceURL.Path = "/v1/traces"
	metricURL := *base
	metricURL.Path = "/v1/metrics"

	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	}
	if opts.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		if opts.Logger != nil {
			opts.Logger.Warn("partial telemetry resource: %s", err)
		}
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "creating resource")
	}

	headers := make(map[string]string)
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
	}
	insecure := base.Scheme == "http"

	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL.String()),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(10 * time.Second),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpointURL(metricURL.String()),
		otlpmetrichttp.WithHeaders(headers),
		otlpmetrichttp.WithTimeout(10 * time.Second),
		otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
	}
	if insecure {
		logOpts = append(logOpts, otlploghttp.WithInsecure())
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating log exporter")
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating trace exporter")
	}
	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating metric exporter")
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	otelLog := logger.NewOtelLogger(logProvider.Logger(opts.ServiceName), logger.LevelTrace)
	log := otelLog
	if opts.Logger != nil {
		log = opts.Logger.Stack(otelLog)
	}

	return log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil && opts.Logger != nil {
			opts.Logger.Warn("trace provider shutdown: %s", err)
		}
		// flushes the final collection
		if err := meterProvider.Shutdown(ctx); err != nil && opts.Logger != nil {
			opts.Logger.Warn("meter provider shutdown: %s", err)
		}
		if err := logProvider.Shutdown(ctx); err != nil && opts.Logger != nil {
			opts.Logger.Warn("log provider shutdown: %s", err)
		}
	}, nil
}
