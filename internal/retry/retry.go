package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// Executor runs remote calls under per-service policies.
type Executor struct {
	policies map[models.Service]Policy
	enricher *failure.Enricher
	logger   *zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration
}

type Option func(*Executor)

func WithPolicy(service models.Service, p Policy) Option {
	return func(e *Executor) { e.policies[service] = p }
}

func WithPolicies(policies map[models.Service]Policy) Option {
	return func(e *Executor) {
		for svc, p := range policies {
			e.policies[svc] = p
		}
	}
}

func WithEnricher(enricher *failure.Enricher) Option {
	return func(e *Executor) { e.enricher = enricher }
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = jitter }
}

// NewExecutor builds an executor with default policies for every service.
// logger is the base for scopes opened outside any correlation scope.
func NewExecutor(logger *zerolog.Logger, opts ...Option) *Executor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	e := &Executor{
		policies: make(map[models.Service]Policy, len(models.Services)),
		enricher: failure.NewEnricher(nil),
		logger:   logger,
		sleep:    sleepContext,
		jitter:   uniformJitter,
	}
	for _, svc := range models.Services {
		e.policies[svc] = DefaultPolicy(svc)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy(service models.Service) Policy {
	if p, ok := e.policies[service]; ok {
		return p
	}
	return DefaultPolicy(service)
}

func (e *Executor) Enricher() *failure.Enricher { return e.enricher }

func (e *Executor) Logger() *zerolog.Logger { return e.logger }

// Reject turns a local failure into an enriched one without calling anything.
func (e *Executor) Reject(ctx context.Context, service models.Service, operation string, err error) *failure.Enriched {
	ctx, scope := logging.Begin(ctx, e.logger, logging.ScopeOptions{Service: service, Operation: operation})
	enriched := e.enricher.Enrich(err, scope.Operation(), 0)
	logFailure(logging.FromContext(ctx), enriched)
	scope.End(enriched)
	return enriched
}

// Do runs fn until it succeeds, fails with a non-retryable kind, or the
// service's attempts are exhausted. Any returned error is *failure.Enriched.
func Do[T any](ctx context.Context, e *Executor, service models.Service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, scope := logging.Begin(ctx, e.logger, logging.ScopeOptions{Service: service, Operation: operation})
	log := scope.Logger()
	policy := e.Policy(service)
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
		policy.MaxAttempts = 1
	}

	fail := func(err error, attempt int) (T, error) {
		enriched := e.enricher.Enrich(err, scope.Operation(), attempt)
		metrics.IncFailure(string(service), string(enriched.Kind()))
		logFailure(log, enriched)
		scope.End(enriched)
		return zero, enriched
	}

	authFailures := 0
	for attempt := 1; ; attempt++ {
		if policy.Limiter != nil {
			if err := policy.Limiter.Wait(ctx); err != nil {
				return fail(err, attempt-1)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			metrics.IncAttempt(string(service), "success")
			log.Debug().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("delay", 0).
				Msg("attempt succeeded")
			scope.End(nil)
			return result, nil
		}

		classified := failure.Classify(err)
		if classified.HTTPStatus == 401 || classified.Code == failure.CodeAuthFailed {
			authFailures++
		}

		if ctx.Err() != nil || !policy.ShouldRetry(classified, attempt, authFailures) {
			metrics.IncAttempt(string(service), "failed")
			log.Warn().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("delay", 0).
				Str("kind", string(classified.Kind)).
				Str("code", string(classified.Code)).
				Msg("attempt failed, giving up")
			return fail(err, attempt)
		}

		delay := policy.Delay(attempt, classified, e.jitter)
		metrics.IncAttempt(string(service), "retry")
		log.Warn().
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Dur("retry_after", classified.RetryAfter).
			Str("kind", string(classified.Kind)).
			Str("code", string(classified.Code)).
			Msg("attempt failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return fail(err, attempt)
		}
	}
}

func logFailure(log *zerolog.Logger, enriched *failure.Enriched) {
	event := log.Error().
		Str("kind", string(enriched.Kind())).
		Str("code", string(enriched.Code())).
		Int("attempts", enriched.Attempts).
		Str("user_message", enriched.UserMessage)
	dict := zerolog.Dict()
	for k, v := range enriched.Technical {
		dict = dict.Str(k, v)
	}
	event.Dict("technical", dict).Msg("operation failed")
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}
