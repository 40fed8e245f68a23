package worker

import (
	"context"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/logging"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// InboxSource is the source id of inbox poll triggers; queued polls collapse
// into one row.
const InboxSource = "inbox"

// RunInboxPoller enqueues an inbox poll every interval until ctx is done.
func RunInboxPoller(ctx context.Context, enq domain.Enqueuer, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		enqueueInboxPoll(ctx, enq, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func enqueueInboxPoll(ctx context.Context, enq domain.Enqueuer, logger *zerolog.Logger) {
	ctx, scope := logging.Begin(ctx, logger, logging.ScopeOptions{Operation: models.TriggerInboxPoll})
	_, err := enq.Enqueue(ctx, models.TriggerInboxPoll, InboxSource, nil, "")
	if err != nil && ctx.Err() == nil {
		scope.Logger().Error().Err(err).Msg("enqueue inbox poll")
	}
}
