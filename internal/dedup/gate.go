// Package dedup guards task creation with a lookup on the task's natural key.
//
// The lookup and the create are two separate calls, so two units of work
// racing on the same key can both miss and both create. Callers accept that
// window; the document store offers no conditional create.
package dedup

import (
	"context"
	"strings"

	"tasksync/internal/domain"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/retry"
)

type Gate struct {
	store domain.DocStore
	exec  *retry.Executor
}

func NewGate(store domain.DocStore, exec *retry.Executor) *Gate {
	return &Gate{store: store, exec: exec}
}

// FindOrNone returns the task whose message id equals key, or nil.
// When several tasks share the key the first one returned by the store wins.
func (g *Gate) FindOrNone(ctx context.Context, key string) (*models.Task, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, g.exec.Reject(ctx, models.ServiceDocStore, "dedup.find", failure.Validation("message_id", "natural key is empty"))
	}

	tasks, err := retry.Do(ctx, g.exec, models.ServiceDocStore, "docstore.query_tasks", func(ctx context.Context) ([]models.Task, error) {
		return g.store.QueryTasks(ctx, models.TaskFilter{MessageID: key, PageSize: 1})
	})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if len(tasks) > 1 {
		logging.FromContext(ctx).Warn().Str("message_id", key).Int("matches", len(tasks)).Msg("duplicate tasks for natural key")
	}
	found := tasks[0]
	return &found, nil
}

// CreateOnce returns the existing task for key, or runs create and returns
// the new task. created reports which of the two happened.
func (g *Gate) CreateOnce(ctx context.Context, key string, create func(ctx context.Context) (*models.Task, error)) (task *models.Task, created bool, err error) {
	existing, err := g.FindOrNone(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		logging.FromContext(ctx).Info().
			Str("message_id", key).
			Str("task_id", existing.SourceID).
			Msg("task already exists, skipping create")
		return existing, false, nil
	}

	task, err = retry.Do(ctx, g.exec, models.ServiceDocStore, "docstore.create_task", create)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}
