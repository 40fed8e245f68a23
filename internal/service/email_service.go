package service

import (
	"context"
	"strings"

	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/retry"
)

// PollResult summarizes one pass over the inbox.
type PollResult struct {
	CorrelationID string              `json:"correlation_id"`
	Listed        int                 `json:"listed"`
	Created       int                 `json:"created"`
	Existing      int                 `json:"existing"`
	Labeled       int                 `json:"labeled"`
	Failures      []*failure.Enriched `json:"-"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// HandleEmailReceived turns one message into a task, at most once per
// message id, then marks the message as processed.
func (s *SyncService) HandleEmailReceived(ctx context.Context, in EmailReceivedInput) (res *Result, err error) {
	ctx, scope := logging.Begin(ctx, s.logger, logging.ScopeOptions{CorrelationID: in.CorrelationID, Operation: models.TriggerEmailReceived})
	defer func() { scope.End(err) }()

	if err := in.Validate(); err != nil {
		return nil, s.exec.Reject(ctx, models.ServiceMail, "validate_input", err)
	}

	res, err = s.ingest(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	res.CorrelationID = scope.CorrelationID()

	if _, err := s.markProcessed(ctx, []string{in.MessageID}); err != nil {
		// Следующий опрос найдёт задачу и повторит метку
		res.Warnings = append(res.Warnings, "label not applied: "+err.Error())
	}
	return res, nil
}

// PollInbox lists unprocessed messages and ingests each one in its own
// scope. A failing message does not stop the pass.
func (s *SyncService) PollInbox(ctx context.Context, in InboxPollInput) (res *PollResult, err error) {
	ctx, scope := logging.Begin(ctx, s.logger, logging.ScopeOptions{CorrelationID: in.CorrelationID, Operation: models.TriggerInboxPoll})
	defer func() { scope.End(err) }()

	if err := in.Validate(); err != nil {
		return nil, s.exec.Reject(ctx, models.ServiceMail, "validate_input", err)
	}
	query := in.Query
	if query == "" {
		query = s.opts.InboxQuery
	}
	limit := in.MaxResults
	if limit == 0 {
		limit = s.opts.InboxMax
	}

	ids, err := retry.Do(ctx, s.exec, models.ServiceMail, "mail.list_messages", func(ctx context.Context) ([]string, error) {
		return s.mailbox.ListMessages(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	log.Info().Int("count", len(ids)).Str("query", query).Msg("inbox listed")

	res = &PollResult{CorrelationID: scope.CorrelationID(), Listed: len(ids)}
	processed := make([]string, 0, len(ids))
	for _, id := range ids {
		one, err := s.ingestScoped(ctx, id)
		if err != nil {
			enriched, _ := failure.AsEnriched(err)
			res.Failures = append(res.Failures, enriched)
			continue
		}
		if one.Created {
			res.Created++
		} else {
			res.Existing++
		}
		res.Warnings = append(res.Warnings, one.Warnings...)
		processed = append(processed, id)
	}

	labeled, err := s.markProcessed(ctx, processed)
	res.Labeled = labeled
	if err != nil {
		res.Warnings = append(res.Warnings, "label not applied: "+err.Error())
	}

	log.Info().
		Int("listed", res.Listed).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("failed", len(res.Failures)).
		Msg("inbox poll finished")
	return res, nil
}

func (s *SyncService) ingestScoped(ctx context.Context, messageID string) (res *Result, err error) {
	ctx, scope := logging.Begin(ctx, nil, logging.ScopeOptions{Operation: models.TriggerEmailReceived})
	defer func() { scope.End(err) }()
	return s.ingest(ctx, messageID)
}

// ingest creates the task for a message unless one already exists.
func (s *SyncService) ingest(ctx context.Context, messageID string) (*Result, error) {
	log := logging.FromContext(ctx)

	email, err := retry.Do(ctx, s.exec, models.ServiceMail, "mail.get_message", func(ctx context.Context) (*models.Email, error) {
		return s.mailbox.GetMessage(ctx, messageID)
	})
	if err != nil {
		return nil, err
	}
	if email.MessageID == "" {
		email.MessageID = messageID
	}

	task, created, err := s.gate.CreateOnce(ctx, messageID, func(ctx context.Context) (*models.Task, error) {
		return s.store.CreateTask(ctx, draftOf(email))
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		CorrelationID: logging.CorrelationID(ctx),
		TaskID:        task.SourceID,
		MessageID:     messageID,
		Created:       created,
	}
	if !created {
		res.Skipped, res.Reason = true, "task already exists"
		return res, nil
	}
	log.Info().Str("task_id", task.SourceID).Str("message_id", messageID).Msg("task created from email")

	blocks := BuildContent(email, s.analyze(ctx, email))
	if err := s.appendContent(ctx, task.SourceID, blocks); err != nil {
		// Задача уже создана; повтор её не пересоздаст
		log.Warn().Err(err).Str("task_id", task.SourceID).Msg("task content incomplete")
		res.Warnings = append(res.Warnings, "content not appended: "+err.Error())
	}
	return res, nil
}

// analyze returns nil when analysis is disabled or fails.
func (s *SyncService) analyze(ctx context.Context, email *models.Email) *models.EmailAnalysis {
	if s.analyzer == nil {
		return nil
	}
	analysis, err := retry.Do(ctx, s.exec, models.ServiceAI, "ai.analyze", func(ctx context.Context) (*models.EmailAnalysis, error) {
		return s.analyzer.Analyze(ctx, email)
	})
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("message_id", email.MessageID).Msg("analysis skipped")
		return nil
	}
	return analysis
}

func (s *SyncService) appendContent(ctx context.Context, taskID string, blocks []models.Block) error {
	for _, batch := range chunk(blocks, models.MaxBlocksPerAppend) {
		_, err := retry.Do(ctx, s.exec, models.ServiceDocStore, "docstore.append_content", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.AppendContent(ctx, taskID, batch)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// markProcessed labels messages in batches and returns how many were labeled.
func (s *SyncService) markProcessed(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	labelID, err := s.processedLabelID(ctx)
	if err != nil {
		return 0, err
	}

	labeled := 0
	for _, batch := range chunk(ids, models.MaxLabelBatch) {
		_, err := retry.Do(ctx, s.exec, models.ServiceMail, "mail.modify_labels", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.mailbox.ModifyLabels(ctx, batch, []string{labelID}, nil)
		})
		if err != nil {
			if s.labels != nil && (failure.IsKind(err, failure.KindNotFound) || failure.IsKind(err, failure.KindClientError)) {
				// Метка могла быть удалена вручную
				_ = s.labels.DeleteLabelID(ctx, s.opts.ProcessedLabel)
			}
			return labeled, err
		}
		labeled += len(batch)
	}
	return labeled, nil
}

func (s *SyncService) processedLabelID(ctx context.Context) (string, error) {
	name := s.opts.ProcessedLabel
	log := logging.FromContext(ctx)

	if s.labels != nil {
		id, err := s.labels.GetLabelID(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("label", name).Msg("label cache read failed")
		}
		if id != "" {
			return id, nil
		}
	}

	id, err := retry.Do(ctx, s.exec, models.ServiceMail, "mail.label_id", func(ctx context.Context) (string, error) {
		return s.mailbox.LabelID(ctx, name)
	})
	if err != nil {
		return "", err
	}
	if s.labels != nil {
		if err := s.labels.SetLabelID(ctx, name, id); err != nil {
			log.Warn().Err(err).Str("label", name).Msg("label cache write failed")
		}
	}
	return id, nil
}

func draftOf(email *models.Email) models.TaskDraft {
	title := strings.TrimSpace(email.Subject)
	if title == "" {
		title = "(no subject)"
	}
	return models.TaskDraft{
		Title:     title,
		MessageID: email.MessageID,
		Sender:    email.Sender,
		Receiver:  email.Receiver,
		EmailURL:  email.URL(),
	}
}
