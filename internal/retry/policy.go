package retry

import (
	"math"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/failure"
	"tasksync/internal/models"

	"golang.org/x/time/rate"
)

// Policy defines exponential backoff with jitter for one service.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
	// MaxRetryAfter caps server supplied Retry-After waits.
	MaxRetryAfter time.Duration
	Retryable     []failure.Kind
	// MaxAuthRetries is how many times a 401 is retried before it surfaces.
	MaxAuthRetries int
	// Limiter throttles attempts client side when set.
	Limiter *rate.Limiter
}

var defaultAttempts = map[models.Service]int{
	models.ServiceDocStore: 5,
	models.ServiceMail:     3,
	models.ServiceCalendar: 3,
	models.ServiceAI:       4,
}

// DefaultPolicy returns the built-in policy for a service.
func DefaultPolicy(service models.Service) Policy {
	attempts, ok := defaultAttempts[service]
	if !ok {
		attempts = 3
	}
	p := Policy{
		MaxAttempts:    attempts,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		MaxJitter:      500 * time.Millisecond,
		MaxRetryAfter:  time.Minute,
		Retryable:      []failure.Kind{failure.KindTransient, failure.KindRateLimited},
		MaxAuthRetries: 1,
	}
	if service == models.ServiceAI {
		p.BaseDelay = 2 * time.Second
		p.MaxDelay = time.Minute
	}
	return p
}

// Backoff returns the deterministic part of the delay after a failed
// attempt (1-based): BaseDelay doubled per attempt, clamped to MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Delay returns the wait before the next attempt. A Retry-After hint wins
// over computed backoff.
func (p Policy) Delay(attempt int, c *failure.Classified, jitter func(time.Duration) time.Duration) time.Duration {
	if c != nil && c.RetryAfter > 0 {
		if p.MaxRetryAfter > 0 && c.RetryAfter > p.MaxRetryAfter {
			return p.MaxRetryAfter
		}
		return c.RetryAfter
	}
	d := p.Backoff(attempt)
	if jitter != nil && p.MaxJitter > 0 {
		d += jitter(p.MaxJitter)
	}
	return d
}

// ShouldRetry reports whether another attempt is allowed after attempt
// failed with c. authFailures counts 401 answers seen so far, this one included.
func (p Policy) ShouldRetry(c *failure.Classified, attempt, authFailures int) bool {
	if c == nil || attempt >= p.MaxAttempts {
		return false
	}
	if c.Kind == failure.KindAuth {
		return c.Code == failure.CodeAuthFailed && authFailures <= p.MaxAuthRetries
	}
	return p.IsRetryable(c.Kind)
}

func (p Policy) IsRetryable(kind failure.Kind) bool {
	for _, k := range p.Retryable {
		if k == kind {
			return true
		}
	}
	return false
}

// WithOverrides applies non-zero config values on top of p.
func (p Policy) WithOverrides(cfg config.ServiceRetryConfig) Policy {
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.MaxJitter > 0 {
		p.MaxJitter = cfg.MaxJitter
	}
	if cfg.MaxRetryAfter > 0 {
		p.MaxRetryAfter = cfg.MaxRetryAfter
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.Limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return p
}

// PoliciesFromConfig builds the policy of every service.
func PoliciesFromConfig(cfg config.RetryConfig) map[models.Service]Policy {
	overrides := map[models.Service]config.ServiceRetryConfig{
		models.ServiceMail:     cfg.Mail,
		models.ServiceDocStore: cfg.DocStore,
		models.ServiceCalendar: cfg.Calendar,
		models.ServiceAI:       cfg.AI,
	}
	out := make(map[models.Service]Policy, len(overrides))
	for _, svc := range models.Services {
		out[svc] = DefaultPolicy(svc).WithOverrides(overrides[svc])
	}
	return out
}
