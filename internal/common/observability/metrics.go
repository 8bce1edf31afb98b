package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	sceneCounter  otelmetric.Int64Counter
	sceneDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	sceneCounter, _ := meter.Int64Counter(
		"scenes.processed",
		otelmetric.WithDescription("Number of scenes processed"),
	)

	sceneDuration, _ := meter.Float64Histogram(
		"scenes.duration",
		otelmetric.WithDescription("Scene processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		sceneCounter:  sceneCounter,
		sceneDuration: sceneDuration,
	}
}

func (o *Observability) RecordSceneProcessed(ctx context.Context, state string) {
	if o.sceneCounter != nil {
		o.sceneCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("state", state),
		))
	}
}

func (o *Observability) RecordSceneDuration(ctx context.Context, duration time.Duration, state string) {
	if o.sceneDuration != nil {
		o.sceneDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("state", state),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
