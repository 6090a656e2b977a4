package executor

import "time"

// DefaultMinEmitInterval is the spec §4.5 default throttle window: a
// progress event is emitted only if current_step advanced AND at least
// this much time elapsed since the last emit, except terminal events which
// are always emitted.
const DefaultMinEmitInterval = 500 * time.Millisecond

// throttler decides whether an intermediate progress callback should result
// in an emitted event, and derives elapsed/iteration_speed/eta_seconds from
// consecutive emitted steps.
type throttler struct {
	minInterval time.Duration
	startedAt   time.Time

	lastStep    int
	lastEmitAt  time.Time
	lastStepAt  time.Time
	haveEmitted bool
}

func newThrottler(minInterval time.Duration) *throttler {
	if minInterval <= 0 {
		minInterval = DefaultMinEmitInterval
	}
	now := time.Now()
	return &throttler{minInterval: minInterval, startedAt: now, lastStepAt: now}
}

// shouldEmit reports whether step should produce a progress event right
// now. terminal events always emit.
func (t *throttler) shouldEmit(step int, now time.Time, terminal bool) bool {
	if terminal {
		return true
	}
	if !t.haveEmitted {
		return true
	}
	if step <= t.lastStep {
		return false // monotonic step counters; regressions are ignored
	}
	return now.Sub(t.lastEmitAt) >= t.minInterval
}

// derived computes elapsed seconds, instantaneous iteration speed, and eta
// seconds for an emitted step, then records it as the new baseline.
func (t *throttler) derived(step, totalSteps int, now time.Time) (elapsed float64, iterSpeed *float64, eta *float64) {
	elapsed = now.Sub(t.startedAt).Seconds()

	if t.haveEmitted && step > t.lastStep {
		dt := now.Sub(t.lastStepAt).Seconds()
		if dt > 0 {
			speed := float64(step-t.lastStep) / dt
			iterSpeed = &speed
			if totalSteps > step && speed > 0 {
				e := float64(totalSteps-step) / speed
				eta = &e
			}
		}
	}

	t.lastStep = step
	t.lastStepAt = now
	t.lastEmitAt = now
	t.haveEmitted = true
	return elapsed, iterSpeed, eta
}
