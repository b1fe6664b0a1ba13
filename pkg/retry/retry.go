// Package retry implements the two retry policies used for every remote
// store operation: unbounded exponential backoff with jitter for
// transient failures, and a small fixed bound with state refresh between
// attempts for optimistic-concurrency conflicts.
package retry

import (
	"math/rand"
	"time"
)

const (
	// DefaultInitialDelay is the first transient backoff delay.
	DefaultInitialDelay = 500 * time.Millisecond

	// DefaultFactor is the per-attempt delay growth.
	DefaultFactor = 1.1

	// DefaultJitter is the upper bound of the random delay added to
	// every attempt.
	DefaultJitter = 500 * time.Millisecond

	// DefaultConflictAttempts bounds conflict retries.
	DefaultConflictAttempts = 10
)

// Sleeper abstracts the sleep primitive so tests can assert backoff
// sequences without real delay.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// RealSleeper returns a Sleeper backed by time.Sleep.
func RealSleeper() Sleeper { return realSleeper{} }

// Transient retries an operation without a fixed upper bound while its
// error remains retryable. The delay before attempt n is
// initial×factorⁿ plus fresh jitter.
type Transient struct {
	Initial time.Duration
	Factor  float64
	Jitter  time.Duration
	Sleeper Sleeper
	Rand    *rand.Rand
}

// NewTransient returns a Transient policy with the default schedule and
// a real sleeper.
func NewTransient() *Transient {
	return &Transient{
		Initial: DefaultInitialDelay,
		Factor:  DefaultFactor,
		Jitter:  DefaultJitter,
		Sleeper: realSleeper{},
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs op, sleeping and retrying for as long as retryable(err)
// reports true. Returns nil on success or the first non-retryable error.
func (p *Transient) Do(op func() error, retryable func(error) bool) error {
	delay := p.Initial
	if delay <= 0 {
		delay = DefaultInitialDelay
	}
	factor := p.Factor
	if factor <= 1 {
		factor = DefaultFactor
	}

	for {
		err := op()
		if err == nil || !retryable(err) {
			return err
		}
		p.Sleeper.Sleep(delay + p.jitter())
		delay = time.Duration(float64(delay) * factor)
	}
}

func (p *Transient) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	if p.Rand != nil {
		return time.Duration(p.Rand.Int63n(int64(p.Jitter)))
	}
	return time.Duration(rand.Int63n(int64(p.Jitter)))
}

// Conflict retries an operation a bounded number of times when the
// error is classified as a conflict, invoking refresh between attempts
// so the next attempt recomputes its write from current remote state.
type Conflict struct {
	Attempts int
}

// Do runs op up to p.Attempts times. refresh runs between conflicting
// attempts, never after the last one. A refresh failure aborts the loop.
// Returns the final error; the caller decides whether to log and
// abandon.
func (p Conflict) Do(op func() error, refresh func() error, isConflict func(error) bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultConflictAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !isConflict(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if rerr := refresh(); rerr != nil {
			return rerr
		}
	}
	return err
}
