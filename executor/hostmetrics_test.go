package executor

import (
	"errors"
	"testing"
	"time"
)

func ptr(f float64) *float64 { return &f }

func TestHostMetricsCache_NilFuncReturnsZeroValue(t *testing.T) {
	c := newHostMetricsCache(nil)
	if got := c.sample(time.Now()); got != (HostMetrics{}) {
		t.Fatalf("want zero value, got %+v", got)
	}
}

func TestHostMetricsCache_RateLimitsSampling(t *testing.T) {
	calls := 0
	fn := func() (HostMetrics, error) {
		calls++
		return HostMetrics{GPUUtilizationPct: ptr(float64(calls))}, nil
	}
	c := newHostMetricsCache(fn)
	now := time.Now()

	first := c.sample(now)
	if calls != 1 || *first.GPUUtilizationPct != 1 {
		t.Fatalf("want first sample to call fn, got calls=%d val=%v", calls, first.GPUUtilizationPct)
	}

	second := c.sample(now.Add(time.Second))
	if calls != 1 {
		t.Fatalf("want cached value within rate window, calls=%d", calls)
	}
	if *second.GPUUtilizationPct != 1 {
		t.Fatalf("want cached value unchanged, got %v", second.GPUUtilizationPct)
	}

	third := c.sample(now.Add(6 * time.Second))
	if calls != 2 {
		t.Fatalf("want fn called again after rate window elapses, calls=%d", calls)
	}
	if *third.GPUUtilizationPct != 2 {
		t.Fatalf("want fresh value, got %v", third.GPUUtilizationPct)
	}
}

func TestHostMetricsCache_ErrorReturnsStaleValue(t *testing.T) {
	good := true
	fn := func() (HostMetrics, error) {
		if good {
			return HostMetrics{GPUMemoryMB: ptr(100)}, nil
		}
		return HostMetrics{}, errors.New("sensor unavailable")
	}
	c := newHostMetricsCache(fn)
	now := time.Now()

	first := c.sample(now)
	if *first.GPUMemoryMB != 100 {
		t.Fatalf("want initial sample, got %v", first.GPUMemoryMB)
	}

	good = false
	second := c.sample(now.Add(6 * time.Second))
	if second.GPUMemoryMB == nil || *second.GPUMemoryMB != 100 {
		t.Fatalf("want stale value preserved on error, got %v", second.GPUMemoryMB)
	}
}
