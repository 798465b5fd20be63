package retry

import (
	"math/rand/v2"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// linearBackOff grows by a fixed increment per attempt, capped at max.
// cenkalti/backoff/v4 ships Constant and Exponential but not Linear, so
// this is a small custom backoff.BackOff implementation alongside them.
type linearBackOff struct {
	increment time.Duration
	max       time.Duration
	attempt   int
}

func newLinearBackOff(increment, max time.Duration) *linearBackOff {
	return &linearBackOff{increment: increment, max: max}
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := time.Duration(l.attempt) * l.increment
	if l.max > 0 && d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// decorrelatedJitterBackOff implements the "decorrelated jitter" strategy:
// each wait is a uniform draw between the initial interval and three times
// the previous wait, capped at max. No cenkalti/backoff equivalent exists,
// so this is hand-rolled, seeded from a process-local, non-global source.
type decorrelatedJitterBackOff struct {
	initial time.Duration
	max     time.Duration
	last    time.Duration
	rng     *rand.Rand
}

func newDecorrelatedJitterBackOff(initial, max time.Duration) *decorrelatedJitterBackOff {
	return &decorrelatedJitterBackOff{
		initial: initial,
		max:     max,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (d *decorrelatedJitterBackOff) NextBackOff() time.Duration {
	if d.last == 0 {
		d.last = d.initial
		return d.last
	}
	upper := d.last * 3
	if d.max > 0 && upper > d.max {
		upper = d.max
	}
	if upper <= d.initial {
		d.last = d.initial
		return d.last
	}
	span := int64(upper - d.initial)
	next := d.initial + time.Duration(d.rng.Int64N(span))
	d.last = next
	return next
}

func (d *decorrelatedJitterBackOff) Reset() { d.last = 0 }

// buildBackOffFactory returns a constructor for a fresh backoff.BackOff
// instance per retry sequence, keyed by the configured strategy name.
// A factory (not a shared instance) is required since Policy.Execute may
// run concurrently across requests and backoff.BackOff implementations are
// stateful per retry sequence.
func buildBackOffFactory(strategy string, initial, max time.Duration, multiplier float64) func() cbackoff.BackOff {
	switch strategy {
	case "constant":
		return func() cbackoff.BackOff { return cbackoff.NewConstantBackOff(initial) }
	case "linear":
		return func() cbackoff.BackOff { return newLinearBackOff(initial, max) }
	case "exponential":
		return func() cbackoff.BackOff {
			eb := cbackoff.NewExponentialBackOff()
			eb.InitialInterval = initial
			eb.MaxInterval = max
			eb.Multiplier = multiplier
			eb.RandomizationFactor = 0
			eb.MaxElapsedTime = 0
			eb.Reset()
			return eb
		}
	case "decorrelated_jitter":
		return func() cbackoff.BackOff { return newDecorrelatedJitterBackOff(initial, max) }
	default: // "exponential_jitter" and unset
		return func() cbackoff.BackOff {
			eb := cbackoff.NewExponentialBackOff()
			eb.InitialInterval = initial
			eb.MaxInterval = max
			eb.Multiplier = multiplier
			eb.MaxElapsedTime = 0
			eb.Reset()
			return eb
		}
	}
}
