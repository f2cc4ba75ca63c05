package backoff

import (
	"math/rand"
	"time"
)

// JitterType selects how NewJitterFunc randomizes an interval.
type JitterType int

const (
	// NoJitter returns the interval unchanged.
	NoJitter JitterType = iota
	// FullJitter returns a value uniformly distributed in [0, interval].
	FullJitter
	// Jitter returns a value uniformly distributed in [interval/2, interval*1.5].
	Jitter
)

// JitterFunc randomizes a base interval.
type JitterFunc func(interval time.Duration) time.Duration

// NewJitterFunc builds a JitterFunc for the given jitter strategy.
func NewJitterFunc(jt JitterType) JitterFunc {
	return func(interval time.Duration) time.Duration {
		if interval <= 0 {
			return 0
		}
		switch jt {
		case FullJitter:
			return time.Duration(rand.Int63n(int64(interval) + 1))
		case Jitter:
			half := interval / 2
			return half + time.Duration(rand.Int63n(int64(interval)+1))
		default:
			return interval
		}
	}
}

// WithJitter wraps a RetryPolicy so each computed interval is passed through jitterFunc.
func WithJitter(policy RetryPolicy, jt JitterType) RetryPolicy {
	return &jitteredPolicy{policy: policy, jitterFunc: NewJitterFunc(jt)}
}

type jitteredPolicy struct {
	policy     RetryPolicy
	jitterFunc JitterFunc
}

func (p *jitteredPolicy) ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.policy.ComputeNextInterval(retryCount, elapsedTime, err)
	if computeErr != nil {
		return 0, computeErr
	}
	return p.jitterFunc(interval), nil
}
