package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*zerolog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)
	return &l, &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestBegin_GeneratesID(t *testing.T) {
	base, buf := newBufferLogger()
	ctx, scope := Begin(context.Background(), base, ScopeOptions{Operation: "task_changed"})
	require.NotEmpty(t, scope.CorrelationID())
	assert.Equal(t, scope.CorrelationID(), CorrelationID(ctx))

	FromContext(ctx).Info().Msg("inside")
	zerolog.Ctx(ctx).Info().Msg("via zerolog ctx")
	scope.End(nil)

	recs := records(t, buf)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, scope.CorrelationID(), rec[CorrelationIDField])
		assert.Equal(t, "task_changed", rec["operation"])
	}
	assert.Contains(t, recs[2], "elapsed_ms")
}

func TestBegin_UsesSuppliedID(t *testing.T) {
	base, _ := newBufferLogger()
	_, scope := Begin(context.Background(), base, ScopeOptions{CorrelationID: "abc"})
	assert.Equal(t, "abc", scope.CorrelationID())
}

func TestBegin_NestedInnermostWins(t *testing.T) {
	base, buf := newBufferLogger()
	outerCtx, outer := Begin(context.Background(), base, ScopeOptions{CorrelationID: "outer", Operation: "outer_op"})

	innerCtx, inner := Begin(outerCtx, nil, ScopeOptions{Service: models.ServiceCalendar, Operation: "calendar.update_event"})
	assert.Equal(t, "outer", inner.CorrelationID(), "nested scope inherits the id when none is given")

	explicitCtx, explicit := Begin(innerCtx, nil, ScopeOptions{CorrelationID: "inner"})
	assert.Equal(t, "inner", CorrelationID(explicitCtx))
	FromContext(explicitCtx).Info().Msg("innermost")
	explicit.End(nil)

	// The enclosing contexts are unaffected once the inner scope is dropped.
	assert.Equal(t, "outer", CorrelationID(innerCtx))
	FromContext(innerCtx).Info().Msg("middle")
	inner.End(errors.New("boom"))
	outer.End(nil)

	recs := records(t, buf)
	require.Len(t, recs, 5)
	assert.Equal(t, "inner", recs[0][CorrelationIDField])
	assert.Equal(t, "outer", recs[2][CorrelationIDField])
	assert.Equal(t, "calendar", recs[2]["service"])
	assert.Equal(t, "warn", recs[3]["level"])
	assert.Equal(t, "boom", recs[3]["error"])

	// Fields are not duplicated by nesting.
	assert.Equal(t, 1, bytes.Count(buf.Bytes()[:bytes.IndexByte(buf.Bytes(), '\n')], []byte(`"correlation_id"`)))
}

func TestFromContext_WithoutScope(t *testing.T) {
	base, buf := newBufferLogger()
	ctx := base.WithContext(context.Background())
	assert.Equal(t, "", CorrelationID(ctx))

	FromContext(ctx).Info().Msg("orphan")
	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0][CorrelationIDField])
}

func TestScope_Operation(t *testing.T) {
	_, scope := Begin(context.Background(), nil, ScopeOptions{CorrelationID: "x", Service: models.ServiceMail, Operation: "mail.list"})
	op := scope.Operation()
	assert.Equal(t, "x", op.CorrelationID)
	assert.Equal(t, models.ServiceMail, op.Service)
	assert.Equal(t, "mail.list", op.Operation)
	assert.False(t, op.StartedAt.IsZero())
	_, ok := CurrentScope(context.Background())
	assert.False(t, ok)
}
