package actio

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitPolicy bounds how long a resolve waits on another goroutine's
// in-flight construction of the same instance.
type WaitPolicy struct {
	// Initial is the first polling interval
	Initial time.Duration

	// Multiplier grows the interval after each poll
	Multiplier float64

	// Timeout is the hard limit after which the wait fails with TimeoutError
	Timeout time.Duration
}

// DefaultWaitPolicy polls after 50ms, growing by 10% per poll, for up to 3s.
var DefaultWaitPolicy = WaitPolicy{
	Initial:    50 * time.Millisecond,
	Multiplier: 1.1,
	Timeout:    3 * time.Second,
}

func (p WaitPolicy) withDefaults() WaitPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultWaitPolicy.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultWaitPolicy.Multiplier
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultWaitPolicy.Timeout
	}
	return p
}

func (p WaitPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.Timeout
	b.MaxElapsedTime = p.Timeout
	b.Reset()
	return b
}

// wait blocks until rec leaves InProgress or the policy times out.
// It reports whether the record finished.
func (p WaitPolicy) wait(rec *record) bool {
	if finished(rec) {
		return true
	}

	ticker := backoff.NewTicker(p.newBackOff())
	defer ticker.Stop()

	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-rec.done:
			return true
		case _, ok := <-ticker.C:
			if finished(rec) {
				return true
			}
			if !ok {
				return false
			}
		case <-timer.C:
			return finished(rec)
		}
	}
}

func finished(rec *record) bool {
	select {
	case <-rec.done:
		return true
	default:
		return false
	}
}
