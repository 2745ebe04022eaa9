package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planweave/planweave/internal/streaming"
	"github.com/planweave/planweave/pkg/schema"
)

const sseHeartbeat = 15 * time.Second

// handleExecutionEvents streams lifecycle events for one execution as
// server-sent events until the client disconnects.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeExecution, "event streaming is not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, schema.NewError(schema.ErrCodeExecution, "streaming unsupported by connection"))
		return
	}

	executionID := chi.URLParam(r, "id")
	events, cancel, err := s.hub.Subscribe(r.Context(), streaming.EventFilter{ExecutionID: executionID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
