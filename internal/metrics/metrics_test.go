package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(attempts.WithLabelValues("calendar", "retry"))
	IncAttempt("calendar", "retry")
	IncAttempt("calendar", "retry")
	assert.Equal(t, before+2, testutil.ToFloat64(attempts.WithLabelValues("calendar", "retry")))

	before = testutil.ToFloat64(failures.WithLabelValues("docstore", "auth"))
	IncFailure("docstore", "auth")
	assert.Equal(t, before+1, testutil.ToFloat64(failures.WithLabelValues("docstore", "auth")))

	before = testutil.ToFloat64(decisions.WithLabelValues("delete_event"))
	IncDecision("delete_event")
	assert.Equal(t, before+1, testutil.ToFloat64(decisions.WithLabelValues("delete_event")))

	before = testutil.ToFloat64(queueTasks.WithLabelValues("task_changed", "completed"))
	IncQueue("task_changed", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(queueTasks.WithLabelValues("task_changed", "completed")))
}
