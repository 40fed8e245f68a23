package dedup

import (
	"context"
	"net/http"
	"testing"
	"time"

	"tasksync/internal/failure"
	"tasksync/internal/models"
	"tasksync/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDocStore is a mock of the domain.DocStore interface
type MockDocStore struct {
	mock.Mock
}

func (m *MockDocStore) QueryTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Task), args.Error(1)
}

func (m *MockDocStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockDocStore) CreateTask(ctx context.Context, draft models.TaskDraft) (*models.Task, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockDocStore) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockDocStore) AppendContent(ctx context.Context, id string, blocks []models.Block) error {
	args := m.Called(ctx, id, blocks)
	return args.Error(0)
}

func newExecutor() *retry.Executor {
	return retry.NewExecutor(nil, retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func byKey(key string) models.TaskFilter {
	return models.TaskFilter{MessageID: key, PageSize: 1}
}

func TestGate_FindOrNone(t *testing.T) {
	store := new(MockDocStore)
	gate := NewGate(store, newExecutor())
	ctx := context.Background()

	store.On("QueryTasks", mock.Anything, byKey("m1")).Return([]models.Task{{SourceID: "t1", MessageID: "m1"}}, nil).Once()
	store.On("QueryTasks", mock.Anything, byKey("m2")).Return([]models.Task{}, nil).Once()

	task, err := gate.FindOrNone(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.SourceID)

	task, err = gate.FindOrNone(ctx, " m2 ")
	require.NoError(t, err)
	assert.Nil(t, task)

	store.AssertExpectations(t)
}

func TestGate_EmptyKeyRejectedWithoutQuery(t *testing.T) {
	store := new(MockDocStore)
	gate := NewGate(store, newExecutor())

	_, err := gate.FindOrNone(context.Background(), "")
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindValidation))
	store.AssertNotCalled(t, "QueryTasks", mock.Anything, mock.Anything)
}

func TestGate_CreateOnceSameKeyTwice(t *testing.T) {
	store := new(MockDocStore)
	gate := NewGate(store, newExecutor())
	ctx := context.Background()

	created := &models.Task{SourceID: "t1", MessageID: "m1", Title: "Invoice"}
	store.On("QueryTasks", mock.Anything, byKey("m1")).Return([]models.Task{}, nil).Once()
	store.On("QueryTasks", mock.Anything, byKey("m1")).Return([]models.Task{*created}, nil).Once()

	creates := 0
	create := func(ctx context.Context) (*models.Task, error) {
		creates++
		return created, nil
	}

	first, ok, err := gate.CreateOnce(ctx, "m1", create)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", first.SourceID)

	second, ok, err := gate.CreateOnce(ctx, "m1", create)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Equal(t, 1, creates)
	store.AssertExpectations(t)
}

func TestGate_QueryFailureRetriedThenSurfaced(t *testing.T) {
	store := new(MockDocStore)
	gate := NewGate(store, newExecutor())

	store.On("QueryTasks", mock.Anything, byKey("m3")).
		Return(nil, &failure.StatusError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"})

	creates := 0
	_, _, err := gate.CreateOnce(context.Background(), "m3", func(ctx context.Context) (*models.Task, error) {
		creates++
		return &models.Task{}, nil
	})
	require.Error(t, err)
	enriched, ok := failure.AsEnriched(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindTransient, enriched.Kind())
	assert.Equal(t, 5, enriched.Attempts)
	assert.Equal(t, 0, creates, "no create after a failed lookup")
	store.AssertNumberOfCalls(t, "QueryTasks", 5)
}

func TestGate_CreateFailureIsEnriched(t *testing.T) {
	store := new(MockDocStore)
	gate := NewGate(store, newExecutor())
	store.On("QueryTasks", mock.Anything, byKey("m4")).Return([]models.Task{}, nil)

	_, created, err := gate.CreateOnce(context.Background(), "m4", func(ctx context.Context) (*models.Task, error) {
		return nil, &failure.StatusError{StatusCode: http.StatusBadRequest, Code: "validation_error", Message: "Status is not a property that exists."}
	})
	require.Error(t, err)
	assert.False(t, created)
	assert.Equal(t, failure.CodeNotionInvalidProperty, failure.CodeOf(err))
}
