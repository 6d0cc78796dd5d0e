// File: internal/server/handlers.go
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/compiler"
	"github.com/xkilldash9x/intentc/internal/engine"
	"github.com/xkilldash9x/intentc/internal/safety"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := codec.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := codec.NewEncoder(w).Encode(apiResponse{Success: false, Error: message}); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// respondStoreError maps store and engine sentinels to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schemas.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrConflict), errors.Is(err, schemas.ErrAlreadyResolved):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type compileRequest struct {
	Intent  string          `json:"intent"`
	Session schemas.Session `json:"session"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Intent == "" {
		s.respondError(w, http.StatusBadRequest, "intent is required")
		return
	}
	if req.Session.Actor == "" {
		req.Session.Actor = actorFrom(r.Context())
	}

	if s.limiter != nil && !s.limiter.Allow(req.Session.BotID) {
		s.respondError(w, http.StatusTooManyRequests, "compile rate limit exceeded for bot")
		return
	}

	ci, err := s.compiler.Compile(r.Context(), req.Intent, req.Session)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			s.respondError(w, http.StatusUnprocessableEntity, compileErr.Error())
			return
		}
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, ci)
}

type executeRequest struct {
	CompiledIntentID string                `json:"compiled_intent_id"`
	Mode             schemas.ExecutionMode `json:"mode,omitempty"`
	Priority         schemas.TaskPriority  `json:"priority,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CompiledIntentID == "" {
		s.respondError(w, http.StatusBadRequest, "compiled_intent_id is required")
		return
	}

	task, err := s.engine.Submit(r.Context(), req.CompiledIntentID, req.Mode, req.Priority)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleSimulatePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	ci, err := s.store.GetCompiledIntent(r.Context(), planID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	result := safety.SimulatePlan(&ci.Plan, s.cfg.Safety().ReviewThreshold)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := schemas.AutoTaskStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	tasks, err := s.store.ListTasks(r.Context(), status, limit, offset)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(tasks), "tasks": tasks})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TaskStats(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.engine.Pause(r.Context(), taskID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": string(schemas.TaskPaused)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.engine.Resume(r.Context(), taskID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": string(schemas.TaskExecuting)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	report, err := s.engine.Cancel(r.Context(), taskID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// handleSimulateTask dry-runs the remaining steps of an existing task.
func (s *Server) handleSimulateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	ci, err := s.store.GetCompiledIntent(r.Context(), task.CompiledIntentID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	completed := make(map[string]bool, len(task.StepResults))
	for _, result := range task.StepResults {
		if result.Status == schemas.StepCompleted || result.Status == schemas.StepSkipped {
			completed[result.StepID] = true
		}
	}
	remaining := ci.Plan
	remaining.Steps = nil
	for _, step := range ci.Plan.Steps {
		if !completed[step.ID] {
			remaining.Steps = append(remaining.Steps, step)
		}
	}

	result := safety.SimulatePlan(&remaining, s.cfg.Safety().ReviewThreshold)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.store.ListApprovals(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(approvals), "approvals": approvals})
}

type approveRequest struct {
	ApprovalID string `json:"approval_id"`
	Approve    bool   `json:"approve"`
	Comment    string `json:"comment,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ApprovalID == "" {
		s.respondError(w, http.StatusBadRequest, "approval_id is required")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	resolver := actorFrom(r.Context())
	if err := s.engine.Approve(r.Context(), taskID, req.ApprovalID, req.Approve, resolver, req.Comment); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"approval_id": req.ApprovalID,
		"approved":    req.Approve,
		"resolver":    resolver,
	})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.store.ListDecisions(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(decisions), "decisions": decisions})
}

type decideRequest struct {
	DecisionID string `json:"decision_id"`
	OptionID   string `json:"option_id"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DecisionID == "" || req.OptionID == "" {
		s.respondError(w, http.StatusBadRequest, "decision_id and option_id are required")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	resolver := actorFrom(r.Context())
	if err := s.engine.Decide(r.Context(), taskID, req.DecisionID, req.OptionID, resolver); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"task_id":     taskID,
		"decision_id": req.DecisionID,
		"option_id":   req.OptionID,
	})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
