// File: internal/server/server.go
// Description: Thin HTTP control surface over the engine. Handlers adapt
// requests onto the core components and translate sentinel errors to status
// codes; no business logic lives here.

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
	"github.com/promoflow/promoflow/internal/config"
	"github.com/promoflow/promoflow/internal/funnel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ArmService exposes the arm registry to the API.
type ArmService interface {
	List() []schemas.Arm
	Get(armID string) (schemas.Arm, error)
	Update(armID string, revenue, spend float64, clicks, conversions int64) (schemas.Arm, error)
}

// Selector picks arms for the next content cycle.
type Selector interface {
	SelectArms(count int) []schemas.Arm
}

// SpendService exposes the governor's decision lifecycle.
type SpendService interface {
	Evaluate(armID string, proposedSpend, expectedRevenue float64, platform string) (schemas.SpendDecision, error)
	Approve(decisionID, approver string) (schemas.SpendDecision, error)
	Reject(decisionID, approver string) (schemas.SpendDecision, error)
	Execute(decisionID string) (schemas.SpendDecision, error)
	Pending() []schemas.SpendDecision
	GetBudgetStatus() schemas.BudgetStatus
}

// TaskService exposes the orchestrator's task lifecycle and the circuit
// breaker.
type TaskService interface {
	CreateTask(spec schemas.TaskSpec) (schemas.Task, error)
	Get(taskID string) (schemas.Task, error)
	List() []schemas.Task
	Counts() (map[schemas.TaskStatus]int, bool, string)
	EmergencyStop(reason string)
	Resume()
}

// ApprovalService exposes the human approval queue.
type ApprovalService interface {
	Approve(ctx context.Context, requestID, approver, comments string) error
	Reject(ctx context.Context, requestID, approver, comments string) error
	Pending() []funnel.PendingApproval
}

// AnalyticsService exposes the profit window history.
type AnalyticsService interface {
	Windows() []schemas.ProfitWindow
	Summary() schemas.ProfitWindow
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg       config.ServerConfig
	logger    *zap.Logger
	arms      ArmService
	selector  Selector
	spend     SpendService
	tasks     TaskService
	approvals ApprovalService
	analytics AnalyticsService

	http *http.Server
}

// New assembles the server and its routes.
func New(
	cfg config.ServerConfig,
	arms ArmService,
	selector Selector,
	spend SpendService,
	tasks TaskService,
	approvals ApprovalService,
	analytics AnalyticsService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "http_server")),
		arms:      arms,
		selector:  selector,
		spend:     spend,
		tasks:     tasks,
		approvals: approvals,
		analytics: analytics,
	}
	s.http = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Routes(),
	}
	return s
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("GET /api/v1/arms", s.handleListArms)
	mux.HandleFunc("GET /api/v1/arms/select", s.handleSelectArms)
	mux.HandleFunc("GET /api/v1/arms/{id}", s.handleGetArm)
	mux.HandleFunc("POST /api/v1/arms/{id}/feedback", s.handleArmFeedback)

	mux.HandleFunc("GET /api/v1/budget", s.handleBudget)
	mux.HandleFunc("POST /api/v1/spend/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /api/v1/spend/pending", s.handlePendingSpend)
	mux.HandleFunc("POST /api/v1/spend/{id}/approve", s.handleApproveSpend)
	mux.HandleFunc("POST /api/v1/spend/{id}/reject", s.handleRejectSpend)
	mux.HandleFunc("POST /api/v1/spend/{id}/execute", s.handleExecuteSpend)

	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)

	mux.HandleFunc("GET /api/v1/approvals", s.handlePendingApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", s.handleResolveApproval(true))
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", s.handleResolveApproval(false))

	mux.HandleFunc("GET /api/v1/analytics/windows", s.handleWindows)
	mux.HandleFunc("GET /api/v1/analytics/summary", s.handleSummary)

	mux.HandleFunc("POST /api/v1/emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("POST /api/v1/resume", s.handleResume)

	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schemas.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schemas.ErrInvalidState), errors.Is(err, schemas.ErrDependencyCycle):
		status = http.StatusConflict
	case errors.Is(err, schemas.ErrEmergencyStopped):
		status = http.StatusLocked
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	counts, stopped, reason := s.tasks.Counts()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tasks":             counts,
		"emergency_stopped": stopped,
		"stop_reason":       reason,
		"budget":            s.spend.GetBudgetStatus(),
	})
}

func (s *Server) handleListArms(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.arms.List())
}

func (s *Server) handleGetArm(w http.ResponseWriter, r *http.Request) {
	arm, err := s.arms.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, arm)
}

func (s *Server) handleSelectArms(w http.ResponseWriter, r *http.Request) {
	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be a non-negative integer"})
			return
		}
		count = parsed
	}
	s.writeJSON(w, http.StatusOK, s.selector.SelectArms(count))
}

func (s *Server) handleArmFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Revenue     float64 `json:"revenue"`
		Spend       float64 `json:"spend"`
		Clicks      int64   `json:"clicks"`
		Conversions int64   `json:"conversions"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	arm, err := s.arms.Update(r.PathValue("id"), req.Revenue, req.Spend, req.Clicks, req.Conversions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, arm)
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.spend.GetBudgetStatus())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArmID           string  `json:"arm_id"`
		ProposedSpend   float64 `json:"proposed_spend"`
		ExpectedRevenue float64 `json:"expected_revenue"`
		Platform        string  `json:"platform"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	decision, err := s.spend.Evaluate(req.ArmID, req.ProposedSpend, req.ExpectedRevenue, req.Platform)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, decision)
}

func (s *Server) handlePendingSpend(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.spend.Pending())
}

type approverRequest struct {
	Approver string `json:"approver"`
	Comments string `json:"comments"`
}

func (s *Server) handleApproveSpend(w http.ResponseWriter, r *http.Request) {
	var req approverRequest
	if !s.decode(w, r, &req) {
		return
	}
	decision, err := s.spend.Approve(r.PathValue("id"), req.Approver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleRejectSpend(w http.ResponseWriter, r *http.Request) {
	var req approverRequest
	if !s.decode(w, r, &req) {
		return
	}
	decision, err := s.spend.Reject(r.PathValue("id"), req.Approver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleExecuteSpend(w http.ResponseWriter, r *http.Request) {
	decision, err := s.spend.Execute(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var spec schemas.TaskSpec
	if !s.decode(w, r, &spec) {
		return
	}
	task, err := s.tasks.CreateTask(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tasks.List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.approvals.Pending())
}

func (s *Server) handleResolveApproval(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approverRequest
		if !s.decode(w, r, &req) {
			return
		}
		var err error
		if approved {
			err = s.approvals.Approve(r.Context(), r.PathValue("id"), req.Approver, req.Comments)
		} else {
			err = s.approvals.Reject(r.Context(), r.PathValue("id"), req.Approver, req.Comments)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})
	}
}

func (s *Server) handleWindows(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.analytics.Windows())
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.analytics.Summary())
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual trigger"
	}
	s.tasks.EmergencyStop(req.Reason)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopped", "reason": req.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.tasks.Resume()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
