// Package api exposes the admin and scheduler HTTP surface. It never
// talks to the external catalog directly: mutations go through the worker
// queue or the reconciliation job.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"metasync/internal/config"
	"metasync/internal/metrics"
	"metasync/internal/models"
	"metasync/internal/processor"
	"metasync/internal/reconcile"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Enqueuer schedules sync work without blocking the request.
type Enqueuer interface {
	Enqueue(ctx context.Context, productID string, op models.Operation) error
}

// ReconcileRunner triggers a full reconciliation pass.
type ReconcileRunner interface {
	Run(ctx context.Context) (models.ReconciliationResult, error)
}

// ExportRunner writes an XLSX snapshot and returns its path.
type ExportRunner interface {
	ExportSyncRecords(ctx context.Context) (string, error)
}

type Server struct {
	cfg        config.APIConfig
	proc       *processor.Processor
	queue      Enqueuer
	reconciler ReconcileRunner
	exporter   ExportRunner
	server     *http.Server
	limiters   sync.Map // map[string]*rate.Limiter
	logger     zerolog.Logger
}

func NewServer(cfg config.APIConfig, proc *processor.Processor, queue Enqueuer, reconciler ReconcileRunner, exporter ExportRunner, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:        cfg,
		proc:       proc,
		queue:      queue,
		reconciler: reconciler,
		exporter:   exporter,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/reconcile", srv.schedulerAuth(srv.handleReconcile))
	mux.HandleFunc("/api/v1/sync/status", srv.adminAuth(srv.handleSyncStatus))
	mux.HandleFunc("/api/v1/sync/", srv.adminAuth(srv.handleSync))
	mux.HandleFunc("/api/v1/deadletters", srv.adminAuth(srv.handleDeadLetters))
	mux.HandleFunc("/api/v1/deadletters/", srv.adminAuth(srv.handleDeadLetterRetry))
	mux.HandleFunc("/api/v1/export", srv.adminAuth(srv.handleExport))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.rateLimitMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, used by tests via httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.reconciler.Run(r.Context())
	if err != nil {
		// The job serializes its own runs, so scheduled and manual
		// passes share one guard.
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.proc.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSync serves POST /api/v1/sync/{id} and GET /api/v1/sync/{id}/logs.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sync/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}

	if strings.HasSuffix(rest, "/logs") {
		s.handleSyncLogs(w, r, strings.TrimSuffix(rest, "/logs"))
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	op := models.OpUpdate
	if raw := strings.TrimSpace(r.URL.Query().Get("op")); raw != "" {
		parsed, err := models.ParseOperation(raw)
		if err != nil || parsed == models.OpReconcile {
			writeError(w, http.StatusBadRequest, "op must be CREATE, UPDATE or DELETE")
			return
		}
		op = parsed
	}

	if err := s.queue.Enqueue(r.Context(), rest, op); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"product_id": rest,
		"operation":  string(op),
		"status":     "queued",
	})
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request, productID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if productID == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.proc.ProductLogs(r.Context(), productID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	unresolvedOnly := r.URL.Query().Get("unresolved") != "false"
	items, err := s.proc.DeadLetters(r.Context(), unresolvedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items})
}

// handleDeadLetterRetry serves POST /api/v1/deadletters/{id}/retry.
func (s *Server) handleDeadLetterRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/deadletters/")
	idRaw, ok := strings.CutSuffix(rest, "/retry")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	result, err := s.proc.RetryDeadLetter(r.Context(), id)
	if err != nil {
		if result != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path, err := s.exporter.ExportSyncRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\"sync_export.xlsx\"")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}

func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return s.secretAuth("X-Admin-Secret", func() string { return s.cfg.AdminSecret }, next)
}

// schedulerAuth accepts the scheduler secret and falls back to the admin
// secret so operators can trigger runs by hand.
func (s *Server) schedulerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SchedulerSecret != "" && constantTimeEqual(r.Header.Get("X-Scheduler-Secret"), s.cfg.SchedulerSecret) {
			next(w, r)
			return
		}
		s.adminAuth(next)(w, r)
	}
}

func (s *Server) secretAuth(header string, secret func() string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := secret()
		if want == "" {
			writeError(w, http.StatusForbidden, "endpoint disabled: no secret configured")
			return
		}
		if !constantTimeEqual(r.Header.Get(header), want) {
			writeError(w, http.StatusUnauthorized, "invalid or missing secret")
			return
		}
		next(w, r)
	}
}

func constantTimeEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit.RPS <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.getLimiter(callerKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getLimiter(key string) *rate.Limiter {
	if v, ok := s.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := s.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	lim := rate.NewLimiter(rate.Limit(s.cfg.RateLimit.RPS), burst)
	actual, loaded := s.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(endpointLabel(r.URL.Path))
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// endpointLabel collapses paths with embedded ids to keep metric
// cardinality bounded.
func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/sync/") && strings.HasSuffix(path, "/logs"):
		return "/api/v1/sync/{id}/logs"
	case path == "/api/v1/sync/status":
		return path
	case strings.HasPrefix(path, "/api/v1/sync/"):
		return "/api/v1/sync/{id}"
	case strings.HasPrefix(path, "/api/v1/deadletters/"):
		return "/api/v1/deadletters/{id}/retry"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
