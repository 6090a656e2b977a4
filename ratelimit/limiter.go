// Package ratelimit implements the §5 per-route token-bucket submission
// limiter: uploads 30/min, generation 20/min, training 5/min by default,
// keyed by client address.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/embercore/forge/ferrors"
)

// Route identifies one of the limited submission routes.
type Route string

const (
	RouteUploads    Route = "uploads"
	RouteGeneration Route = "generation"
	RouteTraining   Route = "training"
)

// routeConfig is a route's (rate, burst) pair.
type routeConfig struct {
	limit rate.Limit
	burst int
}

// defaultConfigs are the spec §5 default buckets.
var defaultConfigs = map[Route]routeConfig{
	RouteUploads:    {limit: rate.Limit(30.0 / 60.0), burst: 30},
	RouteGeneration: {limit: rate.Limit(20.0 / 60.0), burst: 20},
	RouteTraining:   {limit: rate.Limit(5.0 / 60.0), burst: 5},
}

// Limiter is a per-route, per-client-address token bucket. One instance
// is shared by the whole process; a bucket is created lazily the first
// time a (route, clientKey) pair is seen.
type Limiter struct {
	mu      sync.Mutex
	configs map[Route]routeConfig
	buckets map[Route]map[string]*rate.Limiter
}

// New constructs a Limiter seeded with the spec's default buckets.
func New() *Limiter {
	configs := make(map[Route]routeConfig, len(defaultConfigs))
	for r, c := range defaultConfigs {
		configs[r] = c
	}
	return &Limiter{
		configs: configs,
		buckets: make(map[Route]map[string]*rate.Limiter),
	}
}

// SetLimit overrides route's bucket rate (per minute) and burst size.
// Existing per-client buckets for route are reset to the new
// configuration on their next access.
func (l *Limiter) SetLimit(route Route, perMinute float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[route] = routeConfig{limit: rate.Limit(perMinute / 60.0), burst: burst}
	delete(l.buckets, route)
}

// Allow checks whether clientKey may proceed on route right now. It
// returns nil if allowed, or a *ferrors.Error with Kind
// KindRateExceeded and RetryAfterSeconds set if the bucket is exhausted.
func (l *Limiter) Allow(route Route, clientKey string) error {
	lim := l.bucketFor(route, clientKey)

	r := lim.Reserve()
	if !r.OK() {
		// burst is zero or negative: never allow this route.
		return ferrors.RateExceeded(0)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	r.Cancel()
	return ferrors.RateExceeded(int(math.Ceil(delay.Seconds())))
}

func (l *Limiter) bucketFor(route Route, clientKey string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	perClient, ok := l.buckets[route]
	if !ok {
		perClient = make(map[string]*rate.Limiter)
		l.buckets[route] = perClient
	}
	lim, ok := perClient[clientKey]
	if !ok {
		cfg, ok := l.configs[route]
		if !ok {
			cfg = routeConfig{limit: rate.Limit(1.0 / 60.0), burst: 1}
		}
		lim = rate.NewLimiter(cfg.limit, cfg.burst)
		perClient[clientKey] = lim
	}
	return lim
}
