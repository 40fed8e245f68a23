package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, kind, sourceID string, payload any, correlationID string) (*models.SyncTask, error) {
	args := m.Called(ctx, kind, sourceID, payload, correlationID)
	task, _ := args.Get(0).(*models.SyncTask)
	return task, args.Error(1)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestServer(t *testing.T, cfg config.APIConfig, enq *mockEnqueuer) (*HTTPServer, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	if enq == nil {
		enq = &mockEnqueuer{}
	}
	return NewHTTPServer(cfg, db, enq, nil), db
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestTaskTrigger(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("Enqueue", mock.Anything, models.TriggerTaskChanged, "1a2b3c4d00004000800000000000aaaa",
		mock.MatchedBy(func(in service.TaskChangedInput) bool {
			return in.TaskID == "1a2b3c4d-0000-4000-8000-00000000AAAA"
		}), "corr-42").
		Return(&models.SyncTask{ID: 7, Kind: models.TriggerTaskChanged, Status: models.SyncPending, CorrelationID: "corr-42"}, nil).
		Once()
	srv, _ := newTestServer(t, config.APIConfig{}, enq)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/triggers/task",
		`{"task_id":"1a2b3c4d-0000-4000-8000-00000000AAAA"}`,
		map[string]string{logging.CorrelationHeader: "corr-42"})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-42", rec.Header().Get(logging.CorrelationHeader))
	body := decode(t, rec)
	assert.EqualValues(t, 7, body["task_id"])
	assert.Equal(t, models.SyncPending, body["status"])
	assert.Equal(t, "corr-42", body["correlation_id"])
	enq.AssertExpectations(t)
}

func TestOtherTriggers(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   string
		kind   string
		source string
	}{
		{"Event", "/api/v1/triggers/event", `{"event_id":"abc123"}`, models.TriggerEventChanged, "abc123"},
		{"Email", "/api/v1/triggers/email", `{"message_id":"18c2f"}`, models.TriggerEmailReceived, "18c2f"},
		{"InboxEmptyBody", "/api/v1/triggers/inbox", ``, models.TriggerInboxPoll, "inbox"},
		{"InboxWithLimit", "/api/v1/triggers/inbox", `{"max_results":25}`, models.TriggerInboxPoll, "inbox"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enq := &mockEnqueuer{}
			enq.On("Enqueue", mock.Anything, tc.kind, tc.source, mock.Anything, mock.AnythingOfType("string")).
				Return(&models.SyncTask{ID: 1, Kind: tc.kind, Status: models.SyncPending, CorrelationID: "c"}, nil).
				Once()
			srv, _ := newTestServer(t, config.APIConfig{}, enq)

			rec := do(t, srv.Handler(), http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			enq.AssertExpectations(t)
		})
	}
}

func TestTriggerRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, config.APIConfig{}, nil)
	h := srv.Handler()

	cases := []struct {
		name    string
		path    string
		body    string
		message string
	}{
		{"NotJSON", "/api/v1/triggers/task", `{`, "invalid JSON body"},
		{"UnknownField", "/api/v1/triggers/event", `{"event_id":"a","extra":1}`, "invalid JSON body"},
		{"EmptyBody", "/api/v1/triggers/email", ``, "invalid JSON body"},
		{"BadTaskID", "/api/v1/triggers/task", `{"task_id":"nope"}`, "task_id"},
		{"BadEventID", "/api/v1/triggers/event", `{"event_id":"a/b"}`, "event_id"},
		{"BadLimit", "/api/v1/triggers/inbox", `{"max_results":9000}`, "max_results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Contains(t, body["user_message"], tc.message)
			assert.NotEmpty(t, body["correlation_id"])
		})
	}
}

func TestTriggerEnqueueFailure(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("Enqueue", mock.Anything, models.TriggerEventChanged, "ev1", mock.Anything, mock.Anything).
		Return(nil, errors.New("database is locked: /var/lib/tasksync/queue.db")).
		Once()
	srv, _ := newTestServer(t, config.APIConfig{}, enq)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/triggers/event", `{"event_id":"ev1"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "internal error, try again later", body["user_message"])
	assert.NotContains(t, rec.Body.String(), "queue.db")
}

func TestTriggerMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, config.APIConfig{}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/triggers/task", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQueueEndpoints(t *testing.T) {
	srv, db := newTestServer(t, config.APIConfig{}, nil)
	h := srv.Handler()
	ctx := context.Background()

	failed := &models.SyncTask{Kind: models.TriggerEmailReceived, SourceID: "m1", CorrelationID: "corr-f"}
	require.NoError(t, db.CreateSyncTask(ctx, failed))
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, failed.ID, models.SyncFailed, "auth failed", nil))
	pending := &models.SyncTask{Kind: models.TriggerTaskChanged, SourceID: "t1"}
	require.NoError(t, db.CreateSyncTask(ctx, pending))

	t.Run("ListFailed", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/queue/failed", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Tasks []models.SyncTask `json:"tasks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Tasks, 1)
		assert.Equal(t, failed.ID, body.Tasks[0].ID)
	})

	t.Run("BadLimit", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/queue/failed?limit=zero", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Stats", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/queue/stats", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, map[string]any{"failed": float64(1), "pending": float64(1)}, body["queue"])
	})

	t.Run("Retry", func(t *testing.T) {
		path := fmt.Sprintf("/api/v1/queue/%d/retry", failed.ID)
		rec := do(t, h, http.MethodPost, path, "", nil)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, "corr-f", decode(t, rec)["correlation_id"])

		rec = do(t, h, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		got, err := db.GetSyncTask(ctx, failed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SyncPending, got.Status)
	})

	t.Run("RetryUnknown", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/queue/999/retry", "", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/queue/abc/retry", "", nil).Code)
	})
}

func TestHealthz(t *testing.T) {
	srv, db := newTestServer(t, config.APIConfig{}, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	require.NoError(t, db.Close())
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCorrelationHeader(t *testing.T) {
	srv, _ := newTestServer(t, config.APIConfig{}, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get(logging.CorrelationHeader))

	rec = do(t, h, http.MethodGet, "/healthz", "", map[string]string{logging.CorrelationHeader: "has space"})
	assert.NotEqual(t, "has space", rec.Header().Get(logging.CorrelationHeader))
}

func TestWriteFailure(t *testing.T) {
	enriched := &failure.Enriched{
		Classified:  &failure.Classified{Kind: failure.KindRateLimited, Code: failure.CodeRateLimited},
		Operation:   models.OperationContext{CorrelationID: "corr-e"},
		UserMessage: "Gmail is busy, try again later.",
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	rec := httptest.NewRecorder()
	writeFailure(rec, req, enriched)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Gmail is busy, try again later.", body["user_message"])
	assert.Equal(t, "corr-e", body["correlation_id"])
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/queue/{id}/retry", endpointLabel("/api/v1/queue/42/retry"))
	assert.Equal(t, "/api/v1/triggers/task", endpointLabel("/api/v1/triggers/task"))
}
