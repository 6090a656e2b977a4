package executor

import "time"

// HostMetrics is the optional GPU telemetry snapshot refreshed alongside
// progress events (spec §4.5, "refreshes optional host metrics ... no more
// than once every 5s"). Fields are pointers because a given host/plugin may
// not expose all of them.
type HostMetrics struct {
	GPUUtilizationPct *float64
	GPUMemoryMB       *float64
	GPUTemperatureC   *float64
	GPUPowerW         *float64
}

// HostMetricsFunc samples current host metrics. Implementations are
// injected per deployment (e.g. nvidia-smi parsing, DCGM); a nil func
// means no host metrics are collected.
type HostMetricsFunc func() (HostMetrics, error)

const hostMetricsMinInterval = 5 * time.Second

// hostMetricsCache rate-limits HostMetricsFunc calls to at most once per
// hostMetricsMinInterval, returning the last sampled value in between.
type hostMetricsCache struct {
	fn      HostMetricsFunc
	lastAt  time.Time
	lastVal HostMetrics
	sampled bool
}

func newHostMetricsCache(fn HostMetricsFunc) *hostMetricsCache {
	return &hostMetricsCache{fn: fn}
}

func (c *hostMetricsCache) sample(now time.Time) HostMetrics {
	if c.fn == nil {
		return HostMetrics{}
	}
	if c.sampled && now.Sub(c.lastAt) < hostMetricsMinInterval {
		return c.lastVal
	}
	v, err := c.fn()
	if err != nil {
		return c.lastVal
	}
	c.lastVal = v
	c.lastAt = now
	c.sampled = true
	return v
}
