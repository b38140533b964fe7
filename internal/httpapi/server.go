package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixelka/replybot/internal/poller"
	"github.com/mixelka/replybot/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Worker is the inbox worker exposed over HTTP
type Worker interface {
	Status() models.WorkerStatus
	RunOnce(ctx context.Context) (poller.TickReport, error)
	Promote(ctx context.Context) (int, error)
	Start(ctx context.Context) bool
	Stop()
}

// RuleLister lists learned rules
type RuleLister interface {
	Rules(ctx context.Context, limit int) ([]models.LearnedRule, error)
}

// ActionLister reads the action ledger
type ActionLister interface {
	Recent(ctx context.Context, limit int) ([]*models.ActionRecord, error)
	CountByAction(ctx context.Context) (map[models.Action]int, error)
}

// Pinger checks a backing store
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	addr    string
	apiKey  string
	worker  Worker
	rules   RuleLister
	actions ActionLister
	db      Pinger
	logger  *slog.Logger
	server  *http.Server

	// workerCtx is the parent context for worker loops started over HTTP
	workerCtx context.Context
}

// Deps dependencies for creating a server
type Deps struct {
	Addr    string
	APIKey  string // /api/v1 is open when empty
	Worker  Worker
	Rules   RuleLister
	Actions ActionLister
	DB      Pinger // optional, checked by /healthz
	Logger  *slog.Logger
}

// New creates a new HTTP API server
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:      deps.Addr,
		apiKey:    deps.APIKey,
		worker:    deps.Worker,
		rules:     deps.Rules,
		actions:   deps.Actions,
		db:        deps.DB,
		logger:    logger.With("component", "httpapi"),
		workerCtx: context.Background(),
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.workerCtx = ctx
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down HTTP API server", "error", err)
		}
	}()

	s.logger.Info("starting HTTP API server", "addr", s.addr, "auth", s.apiKey != "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP API server failed: %w", err)
	}
	return nil
}

// Handler configures all HTTP routes and middleware
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	if s.apiKey != "" {
		v1.Use(s.authMiddleware)
	}

	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/promote", s.handlePromote).Methods(http.MethodPost)
	v1.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	v1.HandleFunc("/actions", s.handleActions).Methods(http.MethodGet)
	v1.HandleFunc("/worker/start", s.handleWorkerStart).Methods(http.MethodPost)
	v1.HandleFunc("/worker/stop", s.handleWorkerStop).Methods(http.MethodPost)

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// listLimit parses ?limit= within (0, maxListLimit]
func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// TickResponse is the JSON view of a tick report
type TickResponse struct {
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
	Fetched    int                   `json:"fetched"`
	Duplicates int                   `json:"duplicates"`
	Replied    int                   `json:"replied"`
	Errors     int                   `json:"errors"`
	Actions    map[models.Action]int `json:"actions"`
	Stopped    bool                  `json:"stopped"`
	Aborted    bool                  `json:"aborted"`
	Promoted   int                   `json:"promoted"`
	Error      string                `json:"error,omitempty"`
}

func newTickResponse(r poller.TickReport) TickResponse {
	return TickResponse{
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Fetched:    r.Fetched,
		Duplicates: r.Duplicates,
		Replied:    r.Replied,
		Errors:     r.Errors,
		Actions:    r.Actions,
		Stopped:    r.Stopped,
		Aborted:    r.Aborted,
		Promoted:   r.Promoted,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "database unreachable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.worker.Status())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.worker.RunOnce(r.Context())
	switch {
	case errors.Is(err, poller.ErrTickInProgress):
		s.writeError(w, http.StatusConflict, "A tick is already running")
		return
	case err != nil:
		s.logger.Error("manual tick failed", "error", err)
		resp := newTickResponse(report)
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	s.writeJSON(w, http.StatusOK, newTickResponse(report))
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	n, err := s.worker.Promote(r.Context())
	if err != nil {
		s.logger.Error("manual promotion failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Promotion failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"rules_written": n})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules, err := s.rules.Rules(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list rules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	if rules == nil {
		rules = []models.LearnedRule{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	records, err := s.actions.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("failed to list actions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list actions")
		return
	}
	counts, err := s.actions.CountByAction(ctx)
	if err != nil {
		s.logger.Error("failed to count actions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to count actions")
		return
	}
	if records == nil {
		records = []*models.ActionRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"actions": records, "totals": counts})
}

func (s *Server) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	started := s.worker.Start(s.workerCtx)
	if started {
		s.logger.Info("worker started over HTTP")
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": true, "changed": started})
}

func (s *Server) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	wasRunning := s.worker.Status().Running
	s.worker.Stop()
	if wasRunning {
		s.logger.Info("worker stopped over HTTP")
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": false, "changed": wasRunning})
}
