// Package telemetry wires OpenTelemetry metric and trace export for nexus.
//
// When disabled the global providers stay the otel no-op defaults, so the
// runner's instruments and spans cost nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/version"
)

// ServiceName identifies nexus in exported telemetry
const ServiceName = "nexus"

// DefaultExportInterval is how often metrics are pushed when unset
const DefaultExportInterval = 15 * time.Second

// ShutdownFunc flushes and stops the exporters
type ShutdownFunc func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Setup installs global meter and tracer providers exporting over OTLP gRPC.
// The returned func must be called on exit to flush pending data.
func Setup(ctx context.Context, cfg am.TelemetryConfig, log *zap.SugaredLogger) (ShutdownFunc, error) {
	if log == nil {
		log = logger.ComponentLogger("telemetry")
	}
	if !cfg.Enabled {
		log.Debugw("Telemetry disabled")
		return noop, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create telemetry resource")
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Infow("Telemetry initialized",
		logger.FieldAddress, cfg.OTLPEndpoint,
		"environment", cfg.Environment,
		"sample_rate", cfg.SampleRate,
		"insecure", cfg.Insecure)

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "shutdown tracer provider"))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "shutdown meter provider"))
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}, nil
}

func newResource(cfg am.TelemetryConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version.Get().Short()),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("nexus.component", "orchestrator"),
		),
	)
}

func newMeterProvider(ctx context.Context, cfg am.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create metric exporter")
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(exportInterval(cfg)),
		)),
	), nil
}

func newTracerProvider(ctx context.Context, cfg am.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create trace exporter")
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func exportInterval(cfg am.TelemetryConfig) time.Duration {
	if cfg.ExportIntervalSeconds <= 0 {
		return DefaultExportInterval
	}
	return time.Duration(cfg.ExportIntervalSeconds) * time.Second
}
