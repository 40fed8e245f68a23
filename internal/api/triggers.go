package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
	"tasksync/internal/service"
	"tasksync/internal/worker"
)

const maxBodyBytes = 1 << 20

type triggerResponse struct {
	TaskID        int64  `json:"task_id"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

func (s *HTTPServer) handleTaskTrigger(w http.ResponseWriter, r *http.Request) {
	var in service.TaskChangedInput
	if !s.decodeTrigger(w, r, &in, false) {
		return
	}
	if err := in.Validate(); err != nil {
		writeFailure(w, r, err)
		return
	}
	// Один и тот же id страницы приходит с дефисами и без
	source := strings.ToLower(strings.ReplaceAll(in.TaskID, "-", ""))
	s.enqueue(w, r, models.TriggerTaskChanged, source, in, in.CorrelationID)
}

func (s *HTTPServer) handleEventTrigger(w http.ResponseWriter, r *http.Request) {
	var in service.EventChangedInput
	if !s.decodeTrigger(w, r, &in, false) {
		return
	}
	if err := in.Validate(); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.enqueue(w, r, models.TriggerEventChanged, in.EventID, in, in.CorrelationID)
}

func (s *HTTPServer) handleEmailTrigger(w http.ResponseWriter, r *http.Request) {
	var in service.EmailReceivedInput
	if !s.decodeTrigger(w, r, &in, false) {
		return
	}
	if err := in.Validate(); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.enqueue(w, r, models.TriggerEmailReceived, in.MessageID, in, in.CorrelationID)
}

// handleInboxTrigger accepts an empty body; the worker then uses the
// configured query and limit.
func (s *HTTPServer) handleInboxTrigger(w http.ResponseWriter, r *http.Request) {
	var in service.InboxPollInput
	if !s.decodeTrigger(w, r, &in, true) {
		return
	}
	if err := in.Validate(); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.enqueue(w, r, models.TriggerInboxPoll, worker.InboxSource, in, in.CorrelationID)
}

func (s *HTTPServer) decodeTrigger(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	logging.FromContext(r.Context()).Debug().Err(err).Msg("bad trigger body")
	writeError(w, r, http.StatusBadRequest, "invalid JSON body")
	return false
}

func (s *HTTPServer) enqueue(w http.ResponseWriter, r *http.Request, kind, sourceID string, payload any, correlationID string) {
	ctx := r.Context()
	if correlationID == "" {
		correlationID = logging.CorrelationID(ctx)
	}

	task, err := s.enqueuer.Enqueue(ctx, kind, sourceID, payload, correlationID)
	if err != nil {
		if failure.IsKind(err, failure.KindValidation) {
			writeFailure(w, r, err)
			return
		}
		s.internalError(w, r, err, "enqueue "+kind)
		return
	}

	logging.FromContext(ctx).Info().
		Int64("task_id", task.ID).
		Str("kind", kind).
		Str("source_id", sourceID).
		Msg("trigger accepted")
	writeJSON(w, http.StatusAccepted, triggerResponse{
		TaskID:        task.ID,
		Kind:          task.Kind,
		Status:        task.Status,
		CorrelationID: task.CorrelationID,
	})
}

// writeFailure answers with the user facing part of err.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *failure.ValidationError
	if errors.As(err, &verr) {
		writeError(w, r, http.StatusBadRequest, verr.Error())
		return
	}
	if e, ok := failure.AsEnriched(err); ok {
		writeJSON(w, statusForKind(e.Kind()), errorResponse{
			UserMessage:   e.UserMessage,
			CorrelationID: e.Operation.CorrelationID,
		})
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error, try again later")
}

func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindValidation, failure.KindClientError:
		return http.StatusBadRequest
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindRateLimited:
		return http.StatusTooManyRequests
	case failure.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
