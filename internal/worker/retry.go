package worker

import (
	"math"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/failure"
)

// RetryPolicy spaces out queue-level reruns of a failed trigger. It sits on
// top of the per-call retries, which already ran inside the failed unit.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func PolicyFromConfig(cfg config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: 2,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	if delay > float64(math.MaxInt64) || delay <= 0 {
		return time.Second
	}
	return time.Duration(delay)
}

// DelayFor returns the wait before rerun attempt, honoring a server hint
// carried by err when it is longer.
func (r RetryPolicy) DelayFor(attempt int, err error) time.Duration {
	d := r.NextDelay(attempt)
	if c := failure.Classify(err); c != nil && c.RetryAfter > d {
		d = c.RetryAfter
	}
	return d
}

// Retryable reports whether a failed unit may succeed when run again.
func Retryable(err error) bool {
	switch failure.KindOf(err) {
	case failure.KindTransient, failure.KindRateLimited:
		return true
	default:
		return false
	}
}
