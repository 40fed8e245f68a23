package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/models"
)

const syncTaskColumns = `id, kind, source_id, payload, status, retry_count, last_error, correlation_id,
              created_at, claimed_at, processed_at, next_retry_at`

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncPending
	}
	query := `INSERT INTO sync_queue (kind, source_id, payload, status, retry_count, last_error, correlation_id, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		task.Kind,
		task.SourceID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		task.CorrelationID,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

// GetSyncTask returns the row with id, or nil when there is none.
func (db *DB) GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + ` FROM sync_queue WHERE id = ?`
	t, err := scanSyncTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}
	return t, nil
}

// FindQueuedSyncTask returns a not yet started row for the same trigger, so
// repeated webhooks for one record collapse into a single row.
func (db *DB) FindQueuedSyncTask(ctx context.Context, kind, sourceID string) (*models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + ` FROM sync_queue
              WHERE kind = ? AND source_id = ? AND status IN ('pending', 'retry')
              ORDER BY created_at ASC LIMIT 1`
	t, err := scanSyncTask(db.QueryRowContext(ctx, query, kind, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queued sync task: %w", err)
	}
	return t, nil
}

func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + ` FROM sync_queue
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	return collectSyncTasks(rows)
}

// ClaimSyncTask moves a runnable row to processing. It reports false when
// another worker got there first.
func (db *DB) ClaimSyncTask(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE sync_queue SET status = 'processing', claimed_at = ?
              WHERE id = ? AND status IN ('pending', 'retry')`
	result, err := db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim sync task: %w", err)
	}
	return n == 1, nil
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.SyncRetry:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.SyncCompleted, models.SyncFailed:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + syncTaskColumns + ` FROM sync_queue
              WHERE status = 'failed' ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync tasks: %w", err)
	}
	return collectSyncTasks(rows)
}

// RequeueFailedSyncTask puts a failed row back in line with a fresh retry
// budget. It reports false when the row is not failed.
func (db *DB) RequeueFailedSyncTask(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE sync_queue SET status = 'pending', retry_count = 0, next_retry_at = NULL, processed_at = NULL
              WHERE id = ? AND status = 'failed'`
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue sync task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to requeue sync task: %w", err)
	}
	return n == 1, nil
}

// RequeueStale returns rows stuck in processing for longer than olderThan,
// e.g. after a crash, to the retry state.
func (db *DB) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `UPDATE sync_queue SET status = 'retry', next_retry_at = NULL
              WHERE status = 'processing' AND claimed_at < ?`
	result, err := db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale sync tasks: %w", err)
	}
	return result.RowsAffected()
}

// CountSyncTasks returns row counts by status.
func (db *DB) CountSyncTasks(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncTask(row scanner) (*models.SyncTask, error) {
	var t models.SyncTask
	err := row.Scan(
		&t.ID, &t.Kind, &t.SourceID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CorrelationID,
		&t.CreatedAt, &t.ClaimedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectSyncTasks(rows *sql.Rows) ([]models.SyncTask, error) {
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync tasks: %w", err)
	}
	return tasks, nil
}
