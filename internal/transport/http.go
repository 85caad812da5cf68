// Package transport exposes the orchestrator service over HTTP via
// gorilla/mux: a request-ID middleware, a JSON content-type middleware,
// and handlers that report business-level failures as 200 responses with
// a structured body rather than as transport errors.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/synthos/orchestrator/internal/orchestrator"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// maxTriggerBody limits the size of request bodies accepted on the trigger
// endpoint.
const maxTriggerBody = 1 << 20 // 1MB

// Server adapts an *orchestrator.Service onto an HTTP router.
type Server struct {
	svc *orchestrator.Service
}

// NewServer constructs a Server.
func NewServer(svc *orchestrator.Service) *Server {
	return &Server{svc: svc}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the RPC surface under the given router.
func (s *Server) LoadRoutes(parent *mux.Router) {
	router := parent.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.handleListWorkflows).Methods("GET")
	router.HandleFunc("/{id}", s.handleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/trigger", s.handleTriggerWorkflow).Methods("POST")
	router.HandleFunc("/{id}/executions", s.handleListExecutions).Methods("GET")

	execRouter := parent.PathPrefix("/executions").Subrouter()
	execRouter.StrictSlash(false)
	execRouter.Use(requestIDMiddleware)
	execRouter.HandleFunc("/{id}", s.handleGetExecution).Methods("GET")
	execRouter.HandleFunc("/{id}/cancel", s.handleCancelExecution).Methods("POST")
	execRouter.HandleFunc("/{id}/retry", s.handleRetryExecution).Methods("POST")
	execRouter.HandleFunc("/{id}/events", s.handleExecutionEvents).Methods("GET")
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	summaries, err := s.svc.ListWorkflows(r.Context())
	if err != nil {
		slog.Error("failed to list workflows", "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	def, err := s.svc.GetWorkflow(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to get workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleTriggerWorkflow starts a run. An invalid graph is reported as a
// normal 200 body with success=false, not as an HTTP error.
func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxTriggerBody)

	result, err := s.svc.TriggerWorkflow(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to trigger workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	if !result.Success {
		slog.Warn("trigger rejected invalid graph", "id", id, "requestId", rid, "message", result.Message)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	runs, err := s.svc.ListExecutions(r.Context(), id, 0)
	if err != nil {
		slog.Error("failed to list executions", "workflowId", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	detail, err := s.svc.GetExecution(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeErrorJSON(w, "NOT_FOUND", "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to get execution", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	result, err := s.svc.CancelExecution(r.Context(), id)
	if err != nil {
		slog.Error("failed to cancel execution", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	result, err := s.svc.RetryExecution(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeErrorJSON(w, "NOT_FOUND", "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to retry execution", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExecutionEvents streams a run's event updates as server-sent
// events. For a run that is not live the stream ends at once with no
// events, so callers fall back to getExecution for the final state.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorJSON(w, "STREAMING_UNSUPPORTED", "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsub := s.svc.OnExecutionUpdate(id)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			w.Write([]byte("data: "))
			w.Write(body)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(payload)
}

func writeErrorJSON(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
