package service

import (
	"strings"

	"tasksync/internal/failure"

	"github.com/google/uuid"
)

// TaskChangedInput is sent when a task page was created or edited.
type TaskChangedInput struct {
	TaskID        string `json:"task_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (in *TaskChangedInput) Validate() error {
	in.TaskID = strings.TrimSpace(in.TaskID)
	if in.TaskID == "" {
		return failure.Validation("task_id", "is required")
	}
	if _, err := uuid.Parse(in.TaskID); err != nil {
		return failure.Validation("task_id", "is not a page id")
	}
	return nil
}

// EventChangedInput is sent when a calendar event was created, edited or
// deleted.
type EventChangedInput struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (in *EventChangedInput) Validate() error {
	in.EventID = strings.TrimSpace(in.EventID)
	switch {
	case in.EventID == "":
		return failure.Validation("event_id", "is required")
	case len(in.EventID) > 1024 || strings.ContainsAny(in.EventID, " /?#"):
		return failure.Validation("event_id", "is not an event id")
	}
	return nil
}

// EmailReceivedInput is sent for one new inbox message.
type EmailReceivedInput struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (in *EmailReceivedInput) Validate() error {
	in.MessageID = strings.TrimSpace(in.MessageID)
	switch {
	case in.MessageID == "":
		return failure.Validation("message_id", "is required")
	case strings.ContainsAny(in.MessageID, " /?#"):
		return failure.Validation("message_id", "is not a message id")
	}
	return nil
}

// InboxPollInput asks for one pass over unprocessed inbox messages. Empty
// fields take the configured defaults.
type InboxPollInput struct {
	Query         string `json:"query,omitempty"`
	MaxResults    int64  `json:"max_results,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (in *InboxPollInput) Validate() error {
	in.Query = strings.TrimSpace(in.Query)
	if in.MaxResults < 0 || in.MaxResults > 500 {
		return failure.Validation("max_results", "must be between 0 and 500")
	}
	return nil
}
