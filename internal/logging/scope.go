package logging

import (
	"context"
	"time"

	"tasksync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	CorrelationIDField = "correlation_id"
	CorrelationHeader  = "X-Correlation-Id"
)

type scopeKey struct{}

// ScopeOptions describes a scope to open. An empty CorrelationID inherits
// the enclosing scope's id, or a new one is generated at the root.
type ScopeOptions struct {
	CorrelationID string
	Service       models.Service
	Operation     string
}

// Scope is one level of correlated logging. Every record written through
// its logger carries the scope's correlation id.
type Scope struct {
	op     models.OperationContext
	base   zerolog.Logger
	logger zerolog.Logger
}

// NewCorrelationID returns a fresh opaque correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Begin opens a scope on top of ctx. The returned context carries the scope
// and its logger; callers must defer scope.End. The parent context is left
// untouched, so leaving the scope is a matter of dropping the child context.
//
// base is used only for root scopes; nested scopes reuse their root's base.
func Begin(ctx context.Context, base *zerolog.Logger, opts ScopeOptions) (context.Context, *Scope) {
	parent := fromContext(ctx)

	root := zerolog.Nop()
	switch {
	case parent != nil:
		root = parent.base
	case base != nil:
		root = *base
	default:
		if l := zerolog.Ctx(ctx); l != nil {
			root = *l
		}
	}

	id := opts.CorrelationID
	if id == "" && parent != nil {
		id = parent.op.CorrelationID
	}
	if id == "" {
		id = NewCorrelationID()
	}

	service := opts.Service
	if service == "" && parent != nil {
		service = parent.op.Service
	}

	s := &Scope{
		op: models.OperationContext{
			CorrelationID: id,
			Service:       service,
			Operation:     opts.Operation,
			StartedAt:     time.Now(),
		},
		base: root,
	}

	lc := root.With().Str(CorrelationIDField, id)
	if service != "" {
		lc = lc.Str("service", string(service))
	}
	if opts.Operation != "" {
		lc = lc.Str("operation", opts.Operation)
	}
	s.logger = lc.Logger()

	ctx = context.WithValue(ctx, scopeKey{}, s)
	ctx = s.logger.WithContext(ctx)
	return ctx, s
}

func (s *Scope) Logger() *zerolog.Logger { return &s.logger }

func (s *Scope) CorrelationID() string { return s.op.CorrelationID }

// Operation returns the operation context described by the scope.
func (s *Scope) Operation() models.OperationContext { return s.op }

func (s *Scope) Elapsed() time.Duration { return time.Since(s.op.StartedAt) }

// End writes the completion record for the scope.
func (s *Scope) End(err error) {
	elapsed := s.Elapsed()
	if err != nil {
		s.logger.Warn().Err(err).Dur("elapsed_ms", elapsed).Msg("scope failed")
		return
	}
	s.logger.Debug().Dur("elapsed_ms", elapsed).Msg("scope completed")
}

func fromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// CurrentScope returns the innermost scope of ctx, if any.
func CurrentScope(ctx context.Context) (*Scope, bool) {
	s := fromContext(ctx)
	return s, s != nil
}

// CorrelationID returns the innermost correlation id of ctx, or "".
func CorrelationID(ctx context.Context) string {
	if s := fromContext(ctx); s != nil {
		return s.op.CorrelationID
	}
	return ""
}

// FromContext returns the logger of the innermost scope. Outside any scope
// the context logger is stamped with a fresh correlation id so no record
// goes out uncorrelated.
func FromContext(ctx context.Context) *zerolog.Logger {
	if s := fromContext(ctx); s != nil {
		return &s.logger
	}
	l := zerolog.Ctx(ctx).With().Str(CorrelationIDField, NewCorrelationID()).Logger()
	return &l
}
