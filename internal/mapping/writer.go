package mapping

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/retry"
)

// Mode selects how Ensure treats a task without a linked event.
type Mode int

const (
	// ModeUpsert targets the linked id, or the derived id when unlinked.
	ModeUpsert Mode = iota
	// ModeUpdate requires a linked event id and never creates; a missing
	// event is returned as not_found so the caller can drop the link.
	ModeUpdate
)

// Result describes the event a task now maps to.
type Result struct {
	EventID  string
	HTMLLink string
	Created  bool
	// Assigned is set when the calendar chose the id; the caller must store
	// it on the task.
	Assigned bool
}

type Options struct {
	TimeZone        string
	DefaultDuration time.Duration
}

// EventWriter makes a calendar event reflect a task.
type EventWriter struct {
	calendar domain.Calendar
	exec     *retry.Executor
	opts     Options
}

func NewEventWriter(calendar domain.Calendar, exec *retry.Executor, opts Options) *EventWriter {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = models.DefaultEventDuration
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}
	return &EventWriter{calendar: calendar, exec: exec, opts: opts}
}

// TargetID returns the event id a task maps to.
func TargetID(task models.Task) (string, error) {
	if task.LinkedEventID != "" {
		return task.LinkedEventID, nil
	}
	return DeriveEventID(task.SourceID)
}

// Ensure updates the task's event and, in ModeUpsert, creates it when
// missing. Validation failures are returned before any calendar call.
func (w *EventWriter) Ensure(ctx context.Context, task models.Task, mode Mode) (Result, error) {
	const op = "ensure_event"

	if task.Due == nil || task.Due.Start.IsZero() {
		return Result{}, w.exec.Reject(ctx, models.ServiceCalendar, op, failure.Validation("due_start", "task has no due date"))
	}
	if mode == ModeUpdate && task.LinkedEventID == "" {
		return Result{}, w.exec.Reject(ctx, models.ServiceCalendar, op, failure.Validation("linked_event_id", "update requested for a task without a linked event"))
	}
	id, err := TargetID(task)
	if err != nil {
		return Result{}, w.exec.Reject(ctx, models.ServiceCalendar, op, err)
	}

	payload := w.Payload(task)
	log := logging.FromContext(ctx)

	ref, err := retry.Do(ctx, w.exec, models.ServiceCalendar, "calendar.update_event", func(ctx context.Context) (models.EventRef, error) {
		return w.calendar.UpdateEvent(ctx, id, payload)
	})
	if err == nil {
		return Result{EventID: ref.ID, HTMLLink: ref.HTMLLink}, nil
	}
	if mode == ModeUpdate || !failure.IsKind(err, failure.KindNotFound) {
		return Result{}, err
	}

	if !w.calendar.SupportsClientIDs() {
		log.Info().Str("task_id", task.SourceID).Msg("event missing, creating with server assigned id")
		ref, err = retry.Do(ctx, w.exec, models.ServiceCalendar, "calendar.create_event", func(ctx context.Context) (models.EventRef, error) {
			return w.calendar.CreateEvent(ctx, "", payload)
		})
		if err != nil {
			return Result{}, err
		}
		return Result{EventID: ref.ID, HTMLLink: ref.HTMLLink, Created: true, Assigned: true}, nil
	}

	log.Info().Str("task_id", task.SourceID).Str("event_id", id).Msg("event missing, creating with derived id")
	ref, err = retry.Do(ctx, w.exec, models.ServiceCalendar, "calendar.create_event", func(ctx context.Context) (models.EventRef, error) {
		return w.calendar.CreateEvent(ctx, id, payload)
	})
	if err != nil && failure.CodeOf(err) == failure.CodeConflict {
		// The id is still held by a cancelled event.
		restore := payload
		restore.Restore = true
		ref, err = retry.Do(ctx, w.exec, models.ServiceCalendar, "calendar.restore_event", func(ctx context.Context) (models.EventRef, error) {
			return w.calendar.UpdateEvent(ctx, id, restore)
		})
	}
	if err != nil {
		return Result{}, err
	}
	return Result{EventID: ref.ID, HTMLLink: ref.HTMLLink, Created: true}, nil
}

// Delete removes an event. An already missing event counts as deleted.
func (w *EventWriter) Delete(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, w.exec.Reject(ctx, models.ServiceCalendar, "delete_event", failure.Validation("event_id", "event id is empty"))
	}
	_, err := retry.Do(ctx, w.exec, models.ServiceCalendar, "calendar.delete_event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.calendar.DeleteEvent(ctx, eventID)
	})
	if failure.IsKind(err, failure.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Payload renders the event body of a task.
func (w *EventWriter) Payload(task models.Task) models.EventPayload {
	due := task.Due.Normalized()
	end := due.End
	if due.AllDay {
		// Calendar all-day ends are exclusive.
		end = time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, end.Location())
	} else if end.Equal(due.Start) {
		end = due.Start.Add(w.opts.DefaultDuration)
	}

	return models.EventPayload{
		Title:       task.Title,
		Description: Description(task),
		Location:    task.SourceURL,
		Start:       due.Start,
		End:         end,
		AllDay:      due.AllDay,
		TimeZone:    w.opts.TimeZone,
	}
}

// Description is the event description carrying the back-link to the task.
func Description(task models.Task) string {
	return fmt.Sprintf("Notion Task: %s\nLink: %s", task.Title, task.SourceURL)
}

// PatchFromEvent copies an event's title and window onto a task patch.
func PatchFromEvent(event models.Event) models.TaskPatch {
	title := event.Title
	due := TaskDue(event)
	return models.TaskPatch{Title: &title, Due: &due}
}

// TaskDue converts an event window back to a task due window.
func TaskDue(event models.Event) models.DueWindow {
	due := models.DueWindow{Start: event.Start, End: event.End, AllDay: event.AllDay}
	if event.AllDay {
		due.End = event.End.AddDate(0, 0, -1)
	}
	if !due.End.After(due.Start) {
		due.End = time.Time{}
	}
	return due
}
