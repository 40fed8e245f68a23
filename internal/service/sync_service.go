package service

import (
	"context"
	"time"

	"tasksync/internal/dedup"
	"tasksync/internal/domain"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/mapping"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/reconcile"
	"tasksync/internal/retry"

	"github.com/rs/zerolog"
)

// Deps are the collaborators of SyncService. Analyzer and Labels are optional.
type Deps struct {
	DocStore domain.DocStore
	Calendar domain.Calendar
	Mailbox  domain.Mailbox
	Analyzer domain.Analyzer
	Labels   domain.LabelCache
	Executor *retry.Executor
	Logger   *zerolog.Logger
}

type Options struct {
	TimeZone       string
	EventDuration  time.Duration
	ProcessedLabel string
	InboxQuery     string
	InboxMax       int64
}

// Result reports what one unit of work did.
type Result struct {
	CorrelationID string           `json:"correlation_id"`
	TaskID        string           `json:"task_id,omitempty"`
	EventID       string           `json:"event_id,omitempty"`
	MessageID     string           `json:"message_id,omitempty"`
	From          reconcile.State  `json:"from,omitempty"`
	To            reconcile.State  `json:"to,omitempty"`
	Action        reconcile.Action `json:"action,omitempty"`
	Created       bool             `json:"created,omitempty"`
	Skipped       bool             `json:"skipped,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// SyncService handles inbound triggers. Every handler runs as one unit of
// work under its own correlation scope and returns *failure.Enriched errors.
type SyncService struct {
	store    domain.DocStore
	calendar domain.Calendar
	mailbox  domain.Mailbox
	analyzer domain.Analyzer
	labels   domain.LabelCache
	exec     *retry.Executor
	writer   *mapping.EventWriter
	gate     *dedup.Gate
	opts     Options
	logger   *zerolog.Logger
}

func NewSyncService(deps Deps, opts Options) *SyncService {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	exec := deps.Executor
	if exec == nil {
		exec = retry.NewExecutor(logger)
	}
	if opts.ProcessedLabel == "" {
		opts.ProcessedLabel = models.ProcessedLabel
	}
	if opts.InboxQuery == "" {
		opts.InboxQuery = "in:inbox -label:" + opts.ProcessedLabel
	}
	if opts.InboxMax <= 0 {
		opts.InboxMax = models.DefaultInboxMax
	}

	return &SyncService{
		store:    deps.DocStore,
		calendar: deps.Calendar,
		mailbox:  deps.Mailbox,
		analyzer: deps.Analyzer,
		labels:   deps.Labels,
		exec:     exec,
		writer: mapping.NewEventWriter(deps.Calendar, exec, mapping.Options{
			TimeZone:        opts.TimeZone,
			DefaultDuration: opts.EventDuration,
		}),
		gate:   dedup.NewGate(deps.DocStore, exec),
		opts:   opts,
		logger: logger,
	}
}

// HandleTaskChanged reconciles a task with its calendar event.
func (s *SyncService) HandleTaskChanged(ctx context.Context, in TaskChangedInput) (res *Result, err error) {
	ctx, scope := logging.Begin(ctx, s.logger, logging.ScopeOptions{CorrelationID: in.CorrelationID, Operation: models.TriggerTaskChanged})
	defer func() { scope.End(err) }()

	if err := in.Validate(); err != nil {
		return nil, s.exec.Reject(ctx, models.ServiceDocStore, "validate_input", err)
	}
	logging.FromContext(ctx).Info().Str("task_id", in.TaskID).Msg("task changed")

	task, err := s.getTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	res = &Result{CorrelationID: scope.CorrelationID(), TaskID: task.SourceID}
	if task.Archived {
		res.Skipped, res.Reason = true, "task is archived"
		return res, nil
	}

	obs := reconcile.Observation{Task: *task, Desired: s.desired(*task)}
	if obs.Desired != nil || task.LinkedEventID != "" || task.Status.Closed() {
		id, err := mapping.TargetID(*task)
		if err != nil {
			return nil, s.exec.Reject(ctx, models.ServiceCalendar, "target_id", err)
		}
		event, err := s.getEvent(ctx, id)
		switch {
		case failure.IsKind(err, failure.KindNotFound):
			obs.EventMissing = task.LinkedEventID != ""
		case err != nil:
			return nil, err
		default:
			obs.Event = event
		}
	}

	if err := s.apply(ctx, obs, res); err != nil {
		return nil, err
	}
	return res, nil
}

// HandleEventChanged follows an event's back-link to its task and reconciles
// the pair. Events without a back-link are not ours and are skipped.
func (s *SyncService) HandleEventChanged(ctx context.Context, in EventChangedInput) (res *Result, err error) {
	ctx, scope := logging.Begin(ctx, s.logger, logging.ScopeOptions{CorrelationID: in.CorrelationID, Operation: models.TriggerEventChanged})
	defer func() { scope.End(err) }()

	if err := in.Validate(); err != nil {
		return nil, s.exec.Reject(ctx, models.ServiceCalendar, "validate_input", err)
	}
	log := logging.FromContext(ctx)
	log.Info().Str("event_id", in.EventID).Msg("event changed")

	res = &Result{CorrelationID: scope.CorrelationID(), EventID: in.EventID}

	event, err := s.getEvent(ctx, in.EventID)
	if failure.IsKind(err, failure.KindNotFound) {
		res.Skipped, res.Reason = true, "event not found"
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	pageID := ExtractPageID(event.Location, event.Description)
	if pageID == "" {
		res.Skipped, res.Reason = true, "event has no task back-link"
		return res, nil
	}
	res.TaskID = pageID

	task, err := s.getTask(ctx, pageID)
	if failure.IsKind(err, failure.KindNotFound) {
		res.Skipped, res.Reason = true, "linked task not found"
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.TaskID = task.SourceID
	if task.Archived {
		res.Skipped, res.Reason = true, "task is archived"
		return res, nil
	}

	if task.LinkedEventID != "" && task.LinkedEventID != event.ID {
		log.Warn().
			Str("task_id", task.SourceID).
			Str("linked_event_id", task.LinkedEventID).
			Msg("task is linked to another event")
		res.Skipped, res.Reason = true, "task is linked to another event"
		return res, nil
	}

	obs := reconcile.Observation{Task: *task, Event: event, Desired: s.desired(*task)}
	if err := s.apply(ctx, obs, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SyncService) desired(task models.Task) *models.EventPayload {
	if task.Due == nil || task.Due.Start.IsZero() {
		return nil
	}
	p := s.writer.Payload(task)
	return &p
}

// apply asks the state machine for a decision and carries it out.
func (s *SyncService) apply(ctx context.Context, obs reconcile.Observation, res *Result) error {
	log := logging.FromContext(ctx)
	task := obs.Task

	d := reconcile.Decide(obs)
	log.Info().
		Str("task_id", task.SourceID).
		Str("from", string(d.From)).
		Str("to", string(d.To)).
		Str("action", string(d.Action)).
		Str("reason", d.Reason).
		Msg("reconciliation decision")

	var link string
	if obs.Event != nil && !obs.Event.Deleted() {
		link = obs.Event.ID
	}

	switch d.Action {
	case reconcile.ActionNone:

	case reconcile.ActionCreateEvent, reconcile.ActionUpdateEvent:
		mode := mapping.ModeUpsert
		if d.Action == reconcile.ActionUpdateEvent && task.LinkedEventID != "" {
			mode = mapping.ModeUpdate
		}
		out, err := s.writer.Ensure(ctx, task, mode)
		if mode == mapping.ModeUpdate && failure.IsKind(err, failure.KindNotFound) {
			// Пропало между чтением и записью
			log.Warn().Str("event_id", task.LinkedEventID).Msg("linked event vanished, dropping link")
			d = reconcile.Decision{From: d.From, To: reconcile.LinkedOrphaned, Action: reconcile.ActionClearLink, Reason: "linked event vanished during update"}
			if err := s.clearLink(ctx, task.SourceID); err != nil {
				return err
			}
			link = ""
			break
		}
		if err != nil {
			return err
		}
		link = out.EventID
		res.Created = out.Created

	case reconcile.ActionUpdateTask:
		patch := mapping.PatchFromEvent(*obs.Event)
		if task.LinkedEventID != link {
			patch.LinkedEventID = &link
		}
		if _, err := s.updateTask(ctx, task.SourceID, patch); err != nil {
			return err
		}
		task.LinkedEventID = link

	case reconcile.ActionDeleteEvent:
		if _, err := s.writer.Delete(ctx, obs.Event.ID); err != nil {
			return err
		}
		link = ""

	case reconcile.ActionCompleteTask:
		status := models.StatusCompleted
		if _, err := s.updateTask(ctx, task.SourceID, models.TaskPatch{Status: &status}); err != nil {
			return err
		}

	case reconcile.ActionClearLink:
		if err := s.clearLink(ctx, task.SourceID); err != nil {
			return err
		}
		link = ""
	}

	// Связь сохраняем, даже если id выводится из задачи
	if link != "" && link != task.LinkedEventID {
		if _, err := s.updateTask(ctx, task.SourceID, models.TaskPatch{LinkedEventID: &link}); err != nil {
			return err
		}
	}

	metrics.IncDecision(string(d.Action))
	res.From, res.To, res.Action, res.Reason = d.From, d.To, d.Action, d.Reason
	if link != "" {
		res.EventID = link
	}
	return nil
}

func (s *SyncService) clearLink(ctx context.Context, taskID string) error {
	empty := ""
	_, err := s.updateTask(ctx, taskID, models.TaskPatch{LinkedEventID: &empty})
	return err
}

func (s *SyncService) getTask(ctx context.Context, id string) (*models.Task, error) {
	return retry.Do(ctx, s.exec, models.ServiceDocStore, "docstore.get_task", func(ctx context.Context) (*models.Task, error) {
		return s.store.GetTask(ctx, id)
	})
}

func (s *SyncService) updateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	return retry.Do(ctx, s.exec, models.ServiceDocStore, "docstore.update_task", func(ctx context.Context) (*models.Task, error) {
		return s.store.UpdateTask(ctx, id, patch)
	})
}

func (s *SyncService) getEvent(ctx context.Context, id string) (*models.Event, error) {
	return retry.Do(ctx, s.exec, models.ServiceCalendar, "calendar.get_event", func(ctx context.Context) (*models.Event, error) {
		return s.calendar.GetEvent(ctx, id)
	})
}
