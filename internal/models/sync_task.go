package models

import "time"

// Trigger kinds stored in sync_queue.
const (
	TriggerTaskChanged   = "task_changed"
	TriggerEventChanged  = "event_changed"
	TriggerEmailReceived = "email_received"
	TriggerInboxPoll     = "inbox_poll"
)

// Queue statuses.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncRetry      = "retry"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// SyncTask represents a queued inbound trigger.
type SyncTask struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	SourceID      string     `json:"source_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CorrelationID string     `json:"correlation_id"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
