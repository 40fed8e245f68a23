// Package reconcile decides how a task and its calendar event converge.
//
// Decide is pure: callers observe both sides, ask for a Decision, and apply
// the returned action themselves. The machine is evaluated once per inbound
// trigger, never in a loop.
package reconcile

import (
	"strings"
	"time"

	"tasksync/internal/models"
)

type State string

const (
	Unlinked        State = "unlinked"
	LinkedOpen      State = "linked_open"
	LinkedCompleted State = "linked_completed"
	LinkedOrphaned  State = "linked_orphaned"
)

type Action string

const (
	ActionNone         Action = "none"
	ActionCreateEvent  Action = "create_event"
	ActionUpdateEvent  Action = "update_event"
	ActionUpdateTask   Action = "update_task"
	ActionDeleteEvent  Action = "delete_event"
	ActionCompleteTask Action = "complete_task"
	ActionClearLink    Action = "clear_link"
)

// Observation is what one unit of work saw on both sides of a pair.
type Observation struct {
	Task models.Task
	// Event is the calendar side; nil when absent or not fetched.
	Event *models.Event
	// EventMissing is set when the calendar answered not_found for the
	// event the task maps to.
	EventMissing bool
	// Desired is the event rendered from the task; nil without a due date.
	Desired *models.EventPayload
}

type Decision struct {
	From   State
	To     State
	Action Action
	Reason string
}

func (d Decision) Changed() bool { return d.Action != ActionNone }

// StateOf returns the state of the pair before any action is applied.
func StateOf(obs Observation) State {
	linked := obs.Task.LinkedEventID != "" || obs.Event != nil
	switch {
	case !linked:
		return Unlinked
	case obs.Task.Status.Closed() && (obs.Event == nil || obs.Event.Deleted()):
		return LinkedCompleted
	case obs.EventMissing && obs.Task.LinkedEventID != "":
		return LinkedOrphaned
	default:
		return LinkedOpen
	}
}

// Decide returns the single action that moves the pair toward agreement.
// Conflicting edits resolve by last write wins on each side's own
// last-modified time; a tie goes to the task.
func Decide(obs Observation) Decision {
	from := StateOf(obs)
	task, event := obs.Task, obs.Event
	live := event != nil && !event.Deleted()

	decide := func(to State, action Action, reason string) Decision {
		return Decision{From: from, To: to, Action: action, Reason: reason}
	}

	if task.Status.Closed() {
		if live {
			return decide(LinkedCompleted, ActionDeleteEvent, "task closed")
		}
		if from == Unlinked {
			return decide(Unlinked, ActionNone, "closed task without event")
		}
		return decide(LinkedCompleted, ActionNone, "already completed")
	}

	if event.Deleted() {
		return decide(LinkedCompleted, ActionCompleteTask, "event deleted upstream")
	}

	if obs.EventMissing && task.LinkedEventID != "" {
		return decide(LinkedOrphaned, ActionClearLink, "linked event not found")
	}

	if obs.Desired == nil {
		return decide(from, ActionNone, "task has no due date")
	}

	if event == nil {
		return decide(LinkedOpen, ActionCreateEvent, "no event for task")
	}

	if InSync(*obs.Desired, *event) {
		return decide(LinkedOpen, ActionNone, "in sync")
	}

	if EventIsNewer(event.UpdatedAt, task.LastEditedAt) {
		return decide(LinkedOpen, ActionUpdateTask, "event is newer")
	}
	return decide(LinkedOpen, ActionUpdateEvent, "task is newer")
}

// EventIsNewer compares edit times at minute precision, the precision the
// document store reports. Edits within the same minute count as a tie, and a
// tie goes to the task.
func EventIsNewer(eventUpdated, taskEdited time.Time) bool {
	return eventUpdated.Truncate(time.Minute).After(taskEdited.Truncate(time.Minute))
}

// InSync reports whether the event already shows the task's title and window.
func InSync(desired models.EventPayload, event models.Event) bool {
	return strings.TrimSpace(desired.Title) == strings.TrimSpace(event.Title) &&
		desired.AllDay == event.AllDay &&
		desired.Start.Equal(event.Start) &&
		desired.End.Equal(event.End)
}
