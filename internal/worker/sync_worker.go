package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dispatcher runs one queued trigger as a unit of work.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *models.SyncTask) error
}

var knownKinds = map[string]bool{
	models.TriggerTaskChanged:   true,
	models.TriggerEventChanged:  true,
	models.TriggerEmailReceived: true,
	models.TriggerInboxPoll:     true,
}

// SyncWorker consumes sync_queue rows. New rows are announced through Redis
// or an in-memory channel; the table itself is polled as the fallback.
type SyncWorker struct {
	db            *database.DB
	dispatcher    Dispatcher
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	count         int
	staleAfter    time.Duration
	logger        *zerolog.Logger
}

// NewSyncWorker builds a worker; redisClient may be nil.
func NewSyncWorker(db *database.DB, dispatcher Dispatcher, redisClient *redis.Client, cfg config.WorkerConfig, logger *zerolog.Logger) *SyncWorker {
	retry := PolicyFromConfig(cfg)
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	w := &SyncWorker{
		db:            db,
		dispatcher:    dispatcher,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: cfg.QueueKey,
		deadLetterKey: cfg.DeadLetterKey,
		pollInterval:  cfg.PollInterval,
		batchSize:     cfg.BatchSize,
		count:         cfg.Count,
		staleAfter:    cfg.StaleAfter,
		logger:        logging.Component(logger, "worker"),
	}
	if w.redisQueueKey == "" {
		w.redisQueueKey = "tasksync:queue"
	}
	if w.deadLetterKey == "" {
		w.deadLetterKey = "tasksync:deadletter"
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 20
	}
	if w.count <= 0 {
		w.count = 1
	}
	if w.staleAfter <= 0 {
		w.staleAfter = 10 * time.Minute
	}
	return w
}

// Enqueue persists a trigger and announces it to the consumers. A trigger
// already waiting for the same record is returned instead of a new row.
func (w *SyncWorker) Enqueue(ctx context.Context, kind, sourceID string, payload any, correlationID string) (*models.SyncTask, error) {
	if !knownKinds[kind] {
		return nil, failure.Validation("kind", "unknown trigger kind "+kind)
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, failure.Validation("source_id", "is required")
	}

	// id вызывающего, иначе id текущего scope, иначе новый
	if correlationID == "" {
		correlationID = logging.CorrelationID(ctx)
	}
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}
	log := w.loggerWith(correlationID)

	existing, err := w.db.FindQueuedSyncTask(ctx, kind, sourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug().
			Int64("task_id", existing.ID).
			Str("kind", kind).
			Str("source_id", sourceID).
			Str("queued_correlation_id", existing.CorrelationID).
			Msg("trigger already queued")
		return existing, nil
	}

	var encoded string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		encoded = string(data)
	}

	task := models.SyncTask{
		Kind:          kind,
		SourceID:      sourceID,
		Payload:       encoded,
		Status:        models.SyncPending,
		CorrelationID: correlationID,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return nil, fmt.Errorf("persist sync task: %w", err)
	}
	metrics.IncQueue(kind, "enqueued")

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			log.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return &task, nil
		}
	}

	select {
	case w.queue <- task:
	default:
		log.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return &task, nil
}

// Start runs the configured number of consumers and blocks until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	ctx, scope := logging.Begin(ctx, w.logger, logging.ScopeOptions{Operation: "worker"})
	log := scope.Logger()
	log.Info().Int("count", w.count).Msg("sync worker started")
	defer func() { log.Info().Msg("sync worker stopped") }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reapStale(ctx)
	}()
	for i := 0; i < w.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *SyncWorker) consume(ctx context.Context, id int) {
	log := logging.FromContext(ctx).With().Int("consumer", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("fetch pending")
			}
			w.wait(ctx, w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			w.wait(ctx, w.pollInterval)
			continue
		}

		for i := range tasks {
			if ctx.Err() != nil {
				return
			}
			w.processTask(ctx, &tasks[i])
		}
	}
}

// reapStale returns rows left in processing by a crashed run.
func (w *SyncWorker) reapStale(ctx context.Context) {
	ticker := time.NewTicker(w.staleAfter / 2)
	defer ticker.Stop()
	for {
		n, err := w.db.RequeueStale(ctx, w.staleAfter)
		switch {
		case err != nil && ctx.Err() == nil:
			logging.FromContext(ctx).Error().Err(err).Msg("requeue stale tasks")
		case n > 0:
			logging.FromContext(ctx).Warn().Int64("count", n).Msg("requeued stale tasks")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *SyncWorker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		logging.FromContext(ctx).Warn().Err(err).Msg("redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processTask claims the row, runs it and records the outcome. Rows seen
// through more than one source run once.
func (w *SyncWorker) processTask(ctx context.Context, queued *models.SyncTask) {
	qlog := w.loggerWith(queued.CorrelationID).With().Int64("task_id", queued.ID).Logger()
	claimed, err := w.db.ClaimSyncTask(ctx, queued.ID)
	if err != nil {
		qlog.Error().Err(err).Msg("claim task")
		return
	}
	if !claimed {
		return
	}
	task, err := w.db.GetSyncTask(ctx, queued.ID)
	if err != nil || task == nil {
		qlog.Error().Err(err).Msg("reload claimed task")
		return
	}

	log := w.loggerWith(task.CorrelationID).With().
		Int64("task_id", task.ID).
		Str("kind", task.Kind).
		Logger()
	log.Debug().Int("retry_count", task.RetryCount).Msg("processing trigger")

	err = w.dispatcher.Dispatch(ctx, task)
	// Статусы пишем и после отмены контекста
	bg := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if err := w.db.UpdateSyncTaskStatus(bg, task.ID, models.SyncCompleted, "", nil); err != nil {
			log.Error().Err(err).Msg("mark completed")
		}
		metrics.IncQueue(task.Kind, models.SyncCompleted)
	case ctx.Err() != nil:
		// Прерван остановкой, повторим при следующем запуске
		now := time.Now()
		if err := w.db.UpdateSyncTaskStatus(bg, task.ID, models.SyncRetry, "interrupted by shutdown", &now); err != nil {
			log.Error().Err(err).Msg("mark interrupted")
		}
	default:
		w.retryOrFail(bg, task, err, &log)
	}
}

func (w *SyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error, log *zerolog.Logger) {
	msg := cause.Error()
	attempt := task.RetryCount + 1
	if !Retryable(cause) || attempt >= w.retryPolicy.MaxRetries {
		log.Warn().
			Str("kind", string(failure.KindOf(cause))).
			Int("attempt", attempt).
			Msg("trigger failed")
		if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncFailed, msg, nil); err != nil {
			log.Error().Err(err).Msg("mark failed")
		}
		task.Status = models.SyncFailed
		task.LastError = &msg
		w.pushDeadLetter(ctx, task, log)
		metrics.IncQueue(task.Kind, models.SyncFailed)
		return
	}

	nextDelay := w.retryPolicy.DelayFor(attempt, cause)
	nextTime := time.Now().Add(nextDelay)
	log.Info().Int("attempt", attempt).Dur("delay", nextDelay).Msg("trigger scheduled for retry")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncRetry, msg, &nextTime); err != nil {
		log.Error().Err(err).Msg("mark retry")
	}
	metrics.IncQueue(task.Kind, models.SyncRetry)
}

func (w *SyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask, log *zerolog.Logger) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		log.Error().Err(err).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		log.Error().Err(err).Msg("deadletter push")
	}
}

// loggerWith stamps the worker logger with a correlation id; rows written
// before ids existed get a fresh one.
func (w *SyncWorker) loggerWith(correlationID string) *zerolog.Logger {
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}
	l := w.logger.With().Str(logging.CorrelationIDField, correlationID).Logger()
	return &l
}
