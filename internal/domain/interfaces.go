package domain

import (
	"context"

	"tasksync/internal/models"
)

// DocStore is the document database holding task records.
type DocStore interface {
	QueryTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, draft models.TaskDraft) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	AppendContent(ctx context.Context, id string, blocks []models.Block) error
}

// Calendar is the calendar mirroring tasks that have a due date.
type Calendar interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// CreateEvent creates an event under id, or under a server assigned id
	// when id is empty.
	CreateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error)
	UpdateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error)
	DeleteEvent(ctx context.Context, id string) error
	SupportsClientIDs() bool
}

// Mailbox is the inbox emails are ingested from.
type Mailbox interface {
	ListMessages(ctx context.Context, query string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*models.Email, error)
	// ModifyLabels changes labels of at most 100 messages.
	ModifyLabels(ctx context.Context, ids []string, add, remove []string) error
	LabelID(ctx context.Context, name string) (string, error)
}

// Analyzer summarizes an email for the task body.
type Analyzer interface {
	Analyze(ctx context.Context, email *models.Email) (*models.EmailAnalysis, error)
}

// LabelCache keeps label name to id lookups in external storage.
// GetLabelID returns "" on a miss.
type LabelCache interface {
	GetLabelID(ctx context.Context, name string) (string, error)
	SetLabelID(ctx context.Context, name, id string) error
	DeleteLabelID(ctx context.Context, name string) error
}

// Enqueuer persists an inbound trigger for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, sourceID string, payload any, correlationID string) (*models.SyncTask, error)
}
