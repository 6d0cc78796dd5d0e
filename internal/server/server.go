// File: internal/server/server.go

// Package server exposes the operator HTTP API: compile an intent,
// submit and steer tasks, and inspect approvals, decisions, stats and
// the audit trail.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/config"
	"github.com/xkilldash9x/intentc/internal/engine"
	"github.com/xkilldash9x/intentc/internal/safety"
)

// IntentCompiler turns a free-text intent into a CompiledIntent.
type IntentCompiler interface {
	Compile(ctx context.Context, intent string, sess schemas.Session) (*schemas.CompiledIntent, error)
}

// TaskEngine is the slice of the execution engine the API drives.
type TaskEngine interface {
	Submit(ctx context.Context, compiledIntentID string, mode schemas.ExecutionMode, priority schemas.TaskPriority) (*schemas.AutoTask, error)
	Pause(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error
	Cancel(ctx context.Context, taskID string) (*engine.RollbackReport, error)
	Approve(ctx context.Context, taskID, approvalID string, approve bool, resolver, comment string) error
	Decide(ctx context.Context, taskID, decisionID, optionID, resolver string) error
}

// Server hosts the operator API.
type Server struct {
	cfg        config.Interface
	logger     *zap.Logger
	compiler   IntentCompiler
	engine     TaskEngine
	store      schemas.IntentStore
	limiter    *safety.Limiter
	httpServer *http.Server
}

// New wires a Server. The limiter may be nil to disable per-bot compile
// rate limiting.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	intentCompiler IntentCompiler,
	taskEngine TaskEngine,
	store schemas.IntentStore,
	limiter *safety.Limiter,
) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if intentCompiler == nil {
		return nil, errors.New("compiler cannot be nil")
	}
	if taskEngine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "http_server")),
		compiler: intentCompiler,
		engine:   taskEngine,
		store:    store,
		limiter:  limiter,
	}, nil
}

// Router builds the chi router with middleware and all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/autotask", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/compile", s.handleCompile)
		r.Post("/execute", s.handleExecute)
		r.Post("/simulate/{planID}", s.handleSimulatePlan)
		r.Get("/simulate/{planID}", s.handleSimulatePlan)
		r.Get("/list", s.handleListTasks)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/stats", s.handleStats)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
			r.Post("/simulate", s.handleSimulateTask)
			r.Get("/simulate", s.handleSimulateTask)
			r.Get("/approvals", s.handleListApprovals)
			r.Post("/approve", s.handleApprove)
			r.Get("/decisions", s.handleListDecisions)
			r.Post("/decide", s.handleDecide)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// Start runs the HTTP listener until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverCfg := s.cfg.Server()
	s.httpServer = &http.Server{
		Addr:         serverCfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", serverCfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := serverCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// requestLogger logs each request with its status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
