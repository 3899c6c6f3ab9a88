// Package backoff computes retry delays. It is pure: the only state is the
// caller-held policy and the random source used for jitter.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Engine-wide defaults; per-job overrides are permitted.
const (
	DefaultBase      = 1000 * time.Millisecond
	DefaultMax       = 5000 * time.Millisecond
	DefaultJitterMin = 100 * time.Millisecond
	DefaultJitterMax = 300 * time.Millisecond
)

// Policy parameterizes the delay curve. The zero value is not usable; start
// from Default() and override fields.
type Policy struct {
	Base      time.Duration
	Max       time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
}

// Default returns the engine-wide default policy.
func Default() Policy {
	return Policy{
		Base:      DefaultBase,
		Max:       DefaultMax,
		JitterMin: DefaultJitterMin,
		JitterMax: DefaultJitterMax,
	}
}

// Delay returns the wait before retrying after the given failed attempt
// (attempt 0 is the first try): min(base * 2^attempt, max) plus a uniformly
// random jitter in [JitterMin, JitterMax]. The jitter keeps many recipients
// that failed together from retrying in one synchronized burst.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Int64N)
}

// delay takes the random source as a parameter so tests can pin it.
func (p Policy) delay(attempt int, randN func(int64) int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}

	jitter := p.JitterMin
	if span := int64(p.JitterMax - p.JitterMin); span > 0 {
		jitter += time.Duration(randN(span + 1))
	}
	return d + jitter
}
