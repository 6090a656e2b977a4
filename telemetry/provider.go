package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the process-wide OTEL tracer/meter providers and the
// Prometheus registry they export metrics through.
type Provider struct {
	tp  *sdktrace.TracerProvider
	mp  *sdkmetric.MeterProvider
	reg *GaugeRegistry
}

// NewProvider builds an OTEL tracer/meter pair for serviceName and
// installs them as the global providers, so ClueTracer/ClueMetrics
// (and anything else calling otel.Tracer/otel.Meter) pick them up.
// Metrics are exported through a Prometheus registry; MetricsHandler
// serves it over HTTP.
func NewProvider(serviceName, version string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: merge resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: new prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(mp)

	reg, err := newGaugeRegistry(mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("telemetry: new gauge registry: %w", err)
	}

	return &Provider{tp: tp, mp: mp, reg: reg}, nil
}

// Gauges returns the observable-gauge registry for host/queue metrics
// (spec §4.5 host metrics, C3/C4 queue depth and consumer lag).
func (p *Provider) Gauges() *GaugeRegistry { return p.reg }

// MetricsHandler serves the Prometheus text exposition format. The OTEL
// Prometheus exporter registers against the default registry, so
// promhttp.Handler is sufficient without wiring a custom registry.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending spans/metrics and releases provider resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
