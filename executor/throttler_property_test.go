package executor

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestThrottler_ProgressMonotonicityProperty checks spec invariant 3: for
// every job, the emitted progress_pct sequence is non-decreasing, even when
// the underlying step callbacks arrive out of order (a real training loop
// can interleave stdout/stderr lines or report the same step twice).
func TestThrottler_ProgressMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	const total = 200

	properties.Property("emitted progress_pct never decreases", prop.ForAll(
		func(steps []int) bool {
			th := newThrottler(0)
			now := time.Now()
			lastPct := -1.0
			for i, step := range steps {
				now = now.Add(time.Duration(i) * time.Millisecond)
				if step < 0 {
					step = 0
				}
				if !th.shouldEmit(step, now, false) {
					continue
				}
				th.derived(step, total, now)
				pct := float64(step) / float64(total) * 100
				if pct < lastPct {
					return false
				}
				lastPct = pct
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2*total)),
	))

	properties.TestingRun(t)
}
