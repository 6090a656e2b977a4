package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRegistry(t *testing.T) (*GaugeRegistry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	reg, err := newGaugeRegistry(mp.Meter(instrumentationName))
	if err != nil {
		t.Fatal(err)
	}
	return reg, reader
}

func findGauge(rm *metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestGaugeRegistry_HostSampleObservedOnCollect(t *testing.T) {
	reg, reader := newTestRegistry(t)
	util := 42.5
	reg.SetHostSample(HostSample{GPUUtilizationPct: &util})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	m, ok := findGauge(&rm, "forge_gpu_utilization_pct")
	if !ok {
		t.Fatal("want forge_gpu_utilization_pct gauge registered")
	}
	gauge, ok := m.Data.(metricdata.Gauge[float64])
	if !ok {
		t.Fatalf("want Gauge[float64] data, got %T", m.Data)
	}
	if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != util {
		t.Fatalf("want single data point %v, got %+v", util, gauge.DataPoints)
	}
}

func TestGaugeRegistry_UnsetHostFieldsProduceNoDataPoint(t *testing.T) {
	_, reader := newTestRegistry(t)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	m, ok := findGauge(&rm, "forge_gpu_memory_mb")
	if !ok {
		t.Fatal("want forge_gpu_memory_mb gauge registered")
	}
	gauge := m.Data.(metricdata.Gauge[float64])
	if len(gauge.DataPoints) != 0 {
		t.Fatalf("want no data points when field unset, got %+v", gauge.DataPoints)
	}
}

func TestGaugeRegistry_QueueDepthPerQueueLabel(t *testing.T) {
	reg, reader := newTestRegistry(t)
	reg.SetQueueDepth("jobs:training", 3)
	reg.SetQueueDepth("jobs:generation", 7)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	m, ok := findGauge(&rm, "forge_queue_depth")
	if !ok {
		t.Fatal("want forge_queue_depth gauge registered")
	}
	gauge := m.Data.(metricdata.Gauge[int64])
	if len(gauge.DataPoints) != 2 {
		t.Fatalf("want 2 data points (one per queue), got %+v", gauge.DataPoints)
	}
	seen := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		queue, _ := dp.Attributes.Value(attribute.Key("queue"))
		seen[queue.AsString()] = dp.Value
	}
	if seen["jobs:training"] != 3 || seen["jobs:generation"] != 7 {
		t.Fatalf("want per-queue depths recorded, got %+v", seen)
	}
}

func TestGaugeRegistry_ConsumerLagUpdatesReplaceNotAccumulate(t *testing.T) {
	reg, reader := newTestRegistry(t)
	reg.SetConsumerLag("jobs:training", 10)
	reg.SetConsumerLag("jobs:training", 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	m, ok := findGauge(&rm, "forge_queue_consumer_lag")
	if !ok {
		t.Fatal("want forge_queue_consumer_lag gauge registered")
	}
	gauge := m.Data.(metricdata.Gauge[int64])
	if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 2 {
		t.Fatalf("want latest value 2 to replace prior sample, got %+v", gauge.DataPoints)
	}
}
