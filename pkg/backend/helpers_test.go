package backend_test

import (
	"time"

	"github.com/hutchdns/hutch/pkg/retry"
)

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(d time.Duration) { s.slept = append(s.slept, d) }

func newTestTransient(s retry.Sleeper) *retry.Transient {
	return &retry.Transient{
		Initial: time.Millisecond,
		Factor:  retry.DefaultFactor,
		Jitter:  0,
		Sleeper: s,
	}
}
