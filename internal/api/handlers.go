package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planweave/planweave/internal/diagram"
	"github.com/planweave/planweave/internal/store"
	"github.com/planweave/planweave/pkg/schema"
)

type executeRequest struct {
	PlanID      string         `json:"plan_id"`
	UserID      string         `json:"user_id,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}
	if req.PlanID == "" {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "plan_id is required"))
		return
	}

	rec, err := s.engine.ExecutePlanID(r.Context(), req.PlanID, req.UserID, req.TriggerData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Pause(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "state": "pausing"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "state": "cancelling"})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListDeadLetters(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"dead_letters": entries, "count": len(entries)})
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.RetryFromDLQ(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListPaused(w http.ResponseWriter, r *http.Request) {
	paused, err := s.engine.ListPaused(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"paused": paused, "count": len(paused)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.ComputeMetrics(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// handleWebhook packs the incoming request into trigger data and starts
// the bound plan in the background.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	trigger := map[string]any{
		"method":    r.Method,
		"headers":   flattenHeaders(r.Header),
		"query":     flattenQuery(r),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil && len(raw) > 0 {
		var body any
		if json.Unmarshal(raw, &body) == nil {
			trigger["body"] = body
		} else {
			trigger["body"] = string(raw)
		}
	}

	rec, err := s.engine.TriggerWebhook(r.Context(), chi.URLParam(r, "path"), trigger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": rec.ID,
		"status":       string(rec.Status),
	})
}

// handlePlanDiagram renders a plan as a Mermaid flowchart. An optional
// execution_id query parameter overlays that run's step statuses.
func (s *Server) handlePlanDiagram(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeExecution, "plan diagrams are not enabled"))
		return
	}
	plan, err := s.plans.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var rec *store.ExecutionRecord
	if execID := r.URL.Query().Get("execution_id"); execID != "" {
		if rec, err = s.engine.GetExecution(r.Context(), execID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, diagram.RenderMermaid(diagram.FromPlan(plan, rec))); err != nil {
		s.logger.Error("write diagram", slog.String("error", err.Error()))
	}
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeExecution, "credential management is not enabled"))
		return
	}
	var creds map[string]any
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}
	userID, providerName := chi.URLParam(r, "user"), chi.URLParam(r, "provider")
	if err := s.creds.SetCredentials(r.Context(), userID, providerName, creds); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "provider": providerName})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeExecution, "credential management is not enabled"))
		return
	}
	if err := s.creds.DeleteCredentials(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "provider")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func flattenQuery(r *http.Request) map[string]any {
	q := r.URL.Query()
	out := make(map[string]any, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps EngineError codes onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := schema.ErrCodeExecution
	message := err.Error()

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		code = engErr.Code
		message = engErr.Message
		switch engErr.Code {
		case schema.ErrCodeValidation:
			status = http.StatusBadRequest
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
			status = http.StatusConflict
		}
	}

	s.logger.WarnContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.String("code", code),
		slog.String("error", message),
	)
	s.writeJSON(w, status, map[string]string{"code": code, "error": message})
}
