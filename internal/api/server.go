// Package api exposes the engine over HTTP. Handlers are thin glue:
// marshalling in, EngineError mapping out, no business logic.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/planweave/planweave/internal/engine"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/internal/streaming"
	"github.com/planweave/planweave/pkg/schema"
)

// Engine is the orchestrator surface the API needs.
type Engine interface {
	ExecutePlanID(ctx context.Context, planID, userID string, triggerData map[string]any) (*store.ExecutionRecord, error)
	GetExecution(ctx context.Context, executionID string) (*store.ExecutionRecord, error)
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) (*store.ExecutionRecord, error)
	Cancel(ctx context.Context, executionID string) error
	RetryFromDLQ(ctx context.Context, executionID string) (*store.ExecutionRecord, error)
	ListDeadLetters(ctx context.Context) ([]*store.DeadLetterEntry, error)
	ListPaused(ctx context.Context) ([]*store.PausedExecution, error)
	ComputeMetrics(ctx context.Context, userID string) (*engine.Metrics, error)
	TriggerWebhook(ctx context.Context, path string, triggerData map[string]any) (*store.ExecutionRecord, error)
}

// PlanGetter resolves plans for read-only surfaces like diagrams.
type PlanGetter interface {
	GetPlan(ctx context.Context, id string) (*schema.ExecutionPlan, error)
}

// CredentialManager writes provider credentials on behalf of users.
type CredentialManager interface {
	SetCredentials(ctx context.Context, userID, provider string, creds map[string]any) error
	DeleteCredentials(ctx context.Context, userID, provider string) error
}

// Server wraps the chi router over an Engine. The hub, plan source and
// credential manager are optional; their endpoints report an execution
// error until one is attached.
type Server struct {
	engine Engine
	hub    streaming.EventHub
	plans  PlanGetter
	creds  CredentialManager
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the HTTP surface.
func NewServer(eng Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: eng, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Post("/executions", s.handleExecute)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Post("/executions/{id}/pause", s.handlePause)
		r.Post("/executions/{id}/resume", s.handleResume)
		r.Post("/executions/{id}/cancel", s.handleCancel)
		r.Get("/executions/{id}/events", s.handleExecutionEvents)

		r.Get("/dead-letters", s.handleListDeadLetters)
		r.Post("/dead-letters/{id}/retry", s.handleRetryDeadLetter)

		r.Get("/paused", s.handleListPaused)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/plans/{id}/diagram", s.handlePlanDiagram)

		r.Put("/credentials/{user}/{provider}", s.handleSetCredentials)
		r.Delete("/credentials/{user}/{provider}", s.handleDeleteCredentials)

		r.HandleFunc("/hooks/{path}", s.handleWebhook)
	})

	s.router = r
	return s
}

// SetEventHub enables the execution event stream endpoint.
func (s *Server) SetEventHub(hub streaming.EventHub) { s.hub = hub }

// SetPlanSource enables the plan diagram endpoint.
func (s *Server) SetPlanSource(plans PlanGetter) { s.plans = plans }

// SetCredentialManager enables the credential write endpoints.
func (s *Server) SetCredentialManager(creds CredentialManager) { s.creds = creds }

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }
