package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/config"
	"github.com/liamcoop/caseflow/history"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/notify"
	"github.com/liamcoop/caseflow/realtime"
	"github.com/liamcoop/caseflow/rules"
	"github.com/liamcoop/caseflow/scheduler"
	"github.com/liamcoop/caseflow/workflow"
	"github.com/spf13/cast"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Server struct {
	backend       *backend
	registry      *rules.Registry
	engine        *workflow.Engine
	history       *history.Recorder
	notifications *notify.Service
	hub           *realtime.Hub
	scheduler     *scheduler.Scheduler
	listener      *rules.ChangeListener
	mode          string
	router        *chi.Mux
}

// NewServer wires the engine and its collaborators over b
func NewServer(b *backend, cfg config.Config) (*Server, error) {
	cacheConfig := rules.DefaultCacheConfig()
	cacheConfig.TTL = cfg.RulesCacheTTL
	registry, err := rules.NewRegistry(b.rules, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	hub := realtime.NewHub()
	recorder := history.NewRecorder(b.history, nil)
	notifications := notify.NewService(b.notifies, b.users, hub)

	engine, err := workflow.NewEngine(workflow.Deps{
		Rules:    registry,
		Cases:    b.cases,
		Timeline: b.timeline,
		Users:    b.users,
		Notifier: notifications,
		History:  recorder,
	}, cfg.EngineOptions())
	if err != nil {
		return nil, err
	}

	s := &Server{
		backend:       b,
		registry:      registry,
		engine:        engine,
		history:       recorder,
		notifications: notifications,
		hub:           hub,
		mode:          "postgres",
	}
	if b.db == nil {
		s.mode = "memory"
	}
	if cfg.SchedulerEnabled {
		s.scheduler = scheduler.New(registry, b.cases, engine, cfg.SchedulerInterval)
	}
	if b.connStr != "" {
		if s.listener, err = rules.NewChangeListener(b.connStr, registry); err != nil {
			return nil, err
		}
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Websocket connections outlive the request timeout
	r.Get("/api/v1/ws", realtime.Handler(s.hub, s.backend.users.UserExists))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/v1/health", s.handleHealth)
		r.Get("/api/v1/metrics", s.handleMetrics)

		r.Post("/api/v1/events", s.handleEvent)
		r.Get("/api/v1/executions", s.handleListExecutions)

		r.Route("/api/v1/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Post("/run", s.handleRunRule)
				r.Get("/executions", s.handleRuleExecutions)
			})
		})

		r.Route("/api/v1/users/{userId}/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Get("/unread-count", s.handleUnreadCount)
			r.Post("/read-all", s.handleMarkAllRead)
			r.Post("/{notificationId}/read", s.handleMarkRead)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the engine workers, the scheduler and the rule listener
func (s *Server) Start(ctx context.Context) error {
	s.engine.Start()
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
	}
	if s.listener != nil {
		go s.listener.Run(ctx)
	}
	return nil
}

// Shutdown stops intake first, then drains the engine
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Stop(ctx))
	}
	errs = append(errs, s.engine.Close(ctx))
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	return errors.Join(errs...)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.registry.Enabled()
	if err == nil && s.backend.db != nil {
		err = s.backend.db.PingContext(r.Context())
	}
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Mode: s.mode, Error: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Mode: s.mode, Rules: len(enabled)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// Event intake handler. The event is queued and evaluated asynchronously.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event", err)
		return
	}
	if cases.EventKind(req.Kind) == cases.KindTimeBased {
		respondError(w, http.StatusBadRequest, "time_based events are produced by the scheduler only", nil)
		return
	}

	var subject cases.Case
	if req.Case != nil {
		subject = *req.Case
	} else {
		loaded, err := s.backend.cases.GetCase(r.Context(), req.CaseID)
		if errors.Is(err, cases.ErrCaseNotFound) {
			respondError(w, http.StatusNotFound, "case not found", err)
			return
		}
		if err != nil {
			respondError(w, http.StatusBadGateway, "failed to load case", err)
			return
		}
		subject = loaded
	}

	ev := cases.Event{
		Kind:           cases.EventKind(req.Kind),
		Case:           subject,
		PreviousStatus: req.PreviousStatus,
		Payload:        req.Payload,
		Origin:         cases.OriginEvent,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}

	switch err := s.engine.Submit(ev); {
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrEngineClosed):
		respondError(w, http.StatusServiceUnavailable, "event not accepted", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "event not accepted", err)
		return
	}

	respondJSON(w, http.StatusAccepted, EventAcceptedResponse{Status: "queued", CaseID: subject.ID, Kind: req.Kind})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := s.engine.Rules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	rules.SortByPriority(all)

	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(all))}
	for _, rule := range all {
		view, err := toRuleResponse(rule)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to render rule", err)
			return
		}
		resp.Rules = append(resp.Rules, view)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Rule(chi.URLParam(r, "ruleId"))
	if errors.Is(err, rules.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}

	view, err := toRuleResponse(rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render rule", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Manual run handler. Runs synchronously and returns the record.
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	var req RunRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "case_id is required", err)
		return
	}

	rec, err := s.engine.RunRule(r.Context(), chi.URLParam(r, "ruleId"), req.CaseID)
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.Is(err, cases.ErrCaseNotFound):
		respondError(w, http.StatusNotFound, "case not found", err)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to run rule", err)
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := cast.ToInt(r.URL.Query().Get("limit"))

	var (
		recs []history.Record
		err  error
	)
	if caseID := r.URL.Query().Get("case_id"); caseID != "" {
		recs, err = s.history.ListByCase(r.Context(), caseID, limit)
	} else {
		recs, err = s.history.List(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: recs})
}

func (s *Server) handleRuleExecutions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.ListByRule(r.Context(), chi.URLParam(r, "ruleId"), cast.ToInt(r.URL.Query().Get("limit")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: recs})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.notifications.ListForUser(r.Context(), chi.URLParam(r, "userId"), notify.ListOptions{
		UnreadOnly: cast.ToBool(q.Get("unread")),
		Limit:      cast.ToInt(q.Get("limit")),
		Offset:     cast.ToInt(q.Get("offset")),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications", err)
		return
	}
	respondJSON(w, http.StatusOK, NotificationsListResponse{Notifications: list})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	n, err := s.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count notifications", err)
		return
	}
	respondJSON(w, http.StatusOK, UnreadCountResponse{UserID: userID, Unread: n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := s.notifications.MarkRead(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "notificationId"))
	if errors.Is(err, notify.ErrNotFound) {
		respondError(w, http.StatusNotFound, "notification not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.MarkAllRead(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark notifications read", err)
		return
	}
	respondJSON(w, http.StatusOK, ReadAllResponse{Marked: n})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error("Request failed", "status", status, "message", message, "error", err)
	case status >= 400:
		logger.WarnHttp4xx()
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b *backend
	var demo *cases.MemoryDirectory
	if cfg.Demo {
		b, demo = memoryBackend()
		logger.Info("Running in demo mode with in-memory stores")
	} else {
		if b, err = openPostgres(ctx, cfg); err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
	}
	defer b.Close()

	server, err := NewServer(b, cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	if demo != nil {
		if err := seedDemo(demo, server.registry); err != nil {
			logger.Fatal("Failed to seed demo data", "error", err)
		}
	}
	if err := server.Start(ctx); err != nil {
		logger.Fatal("Failed to start background workers", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "mode", server.mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Engine shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
