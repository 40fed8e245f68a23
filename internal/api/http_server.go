package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/domain"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer accepts webhook triggers and exposes the queue state.
type HTTPServer struct {
	cfg      config.APIConfig
	db       *database.DB
	enqueuer domain.Enqueuer
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, enqueuer domain.Enqueuer, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		db:       db,
		enqueuer: enqueuer,
		auth:     NewHTTPAuth(cfg),
		logger:   logging.Component(logger, "http"),
	}

	mux.HandleFunc("POST /api/v1/triggers/task", srv.handleTaskTrigger)
	mux.HandleFunc("POST /api/v1/triggers/event", srv.handleEventTrigger)
	mux.HandleFunc("POST /api/v1/triggers/email", srv.handleEmailTrigger)
	mux.HandleFunc("POST /api/v1/triggers/inbox", srv.handleInboxTrigger)
	mux.HandleFunc("GET /api/v1/queue/failed", srv.handleFailed)
	mux.HandleFunc("GET /api/v1/queue/stats", srv.handleStats)
	mux.HandleFunc("POST /api/v1/queue/{id}/retry", srv.handleRetry)
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleFailed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	tasks, err := s.db.GetFailedSyncTasks(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err, "list failed tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CountSyncTasks(r.Context())
	if err != nil {
		s.internalError(w, r, err, "count tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": counts})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.db.GetSyncTask(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err, "load task")
		return
	}
	if task == nil {
		writeError(w, r, http.StatusNotFound, "task not found")
		return
	}

	ok, err := s.db.RequeueFailedSyncTask(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err, "requeue task")
		return
	}
	if !ok {
		writeError(w, r, http.StatusConflict, "only failed tasks can be retried")
		return
	}

	logging.FromContext(r.Context()).Info().Int64("task_id", id).Str("kind", task.Kind).Msg("failed task requeued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":        id,
		"status":         "pending",
		"correlation_id": task.CorrelationID,
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	counts, err := s.db.CountSyncTasks(ctx)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queue": counts})
}

// internalError logs the cause and answers with a generic message.
func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, err error, op string) {
	logging.FromContext(r.Context()).Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, r, http.StatusInternalServerError, "internal error, try again later")
}

// loggingMiddleware opens a correlation scope per request and writes one
// access record.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, scope := logging.Begin(r.Context(), s.logger, logging.ScopeOptions{
			CorrelationID: incomingCorrelationID(r),
			Operation:     "http",
		})
		w.Header().Set(logging.CorrelationHeader, scope.CorrelationID())

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		metrics.IncHTTP(endpointLabel(r.URL.Path))
		ev := scope.Logger().Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = scope.Logger().Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

// incomingCorrelationID accepts a caller supplied id if it looks sane.
func incomingCorrelationID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(logging.CorrelationHeader))
	if id == "" || len(id) > 128 {
		return ""
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return id
}

// endpointLabel keeps metric cardinality bounded by folding numeric path
// segments.
func endpointLabel(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	UserMessage   string `json:"user_message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		UserMessage:   message,
		CorrelationID: logging.CorrelationID(r.Context()),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
