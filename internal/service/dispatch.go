package service

import (
	"context"
	"encoding/json"
	"fmt"

	"tasksync/internal/failure"
	"tasksync/internal/models"
)

// Dispatch decodes a queued trigger and runs its handler. The stored
// correlation id is reused so a retried trigger keeps its id.
func (s *SyncService) Dispatch(ctx context.Context, task *models.SyncTask) error {
	decode := func(v any) error {
		if task.Payload == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(task.Payload), v); err != nil {
			return failure.Validation("payload", fmt.Sprintf("decode %s payload: %v", task.Kind, err))
		}
		return nil
	}

	switch task.Kind {
	case models.TriggerTaskChanged:
		in := TaskChangedInput{TaskID: task.SourceID}
		if err := decode(&in); err != nil {
			return s.exec.Reject(ctx, models.ServiceDocStore, "dispatch", err)
		}
		in.CorrelationID = task.CorrelationID
		_, err := s.HandleTaskChanged(ctx, in)
		return err

	case models.TriggerEventChanged:
		in := EventChangedInput{EventID: task.SourceID}
		if err := decode(&in); err != nil {
			return s.exec.Reject(ctx, models.ServiceCalendar, "dispatch", err)
		}
		in.CorrelationID = task.CorrelationID
		_, err := s.HandleEventChanged(ctx, in)
		return err

	case models.TriggerEmailReceived:
		in := EmailReceivedInput{MessageID: task.SourceID}
		if err := decode(&in); err != nil {
			return s.exec.Reject(ctx, models.ServiceMail, "dispatch", err)
		}
		in.CorrelationID = task.CorrelationID
		_, err := s.HandleEmailReceived(ctx, in)
		return err

	case models.TriggerInboxPoll:
		var in InboxPollInput
		if err := decode(&in); err != nil {
			return s.exec.Reject(ctx, models.ServiceMail, "dispatch", err)
		}
		in.CorrelationID = task.CorrelationID
		_, err := s.PollInbox(ctx, in)
		return err

	default:
		return s.exec.Reject(ctx, models.ServiceDocStore, "dispatch", failure.Validation("kind", "unknown trigger kind "+task.Kind))
	}
}
