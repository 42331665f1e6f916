package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the telemetry set up by [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "lectern".
	ServiceName string

	ServiceVersion string

	// SampleRatio is the fraction of root spans kept. Nil keeps all.
	// Child spans follow their parent's decision.
	SampleRatio *float64

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them, which still gives log lines their trace_id.
	TraceExporter sdktrace.SpanExporter
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio == nil {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*c.SampleRatio))
}

// InitProvider installs global meter and tracer providers for `lectern
// serve`. Metrics go to the Prometheus default registerer, so the scoring
// and provider instruments appear on the server's /metrics endpoint. The
// W3C trace-context propagator is installed as well.
//
// The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lectern"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Logger(ctx).Debug("telemetry initialised",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"trace_export", cfg.TraceExporter != nil,
	)

	return func(ctx context.Context) error {
		// Traces first: span processors may still record metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
