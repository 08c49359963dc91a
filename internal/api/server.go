// Package api exposes the orchestration core over HTTP. Routes cover thread
// lifecycle, synchronous and streamed chat turns, the approval review
// surface, orchestrate/workflow invocation, and queue administration.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orchard-run/orchard/internal/approval"
	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/memory"
	"github.com/orchard-run/orchard/internal/orchestrator"
	"github.com/orchard-run/orchard/internal/queue"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/workflow"
)

const maxBodySize = 1 << 20 // 1MB

// Deps wires the API's collaborators.
type Deps struct {
	Store        *store.Store
	Saver        *checkpoint.Saver
	Threads      *thread.Manager
	Orchestrator *orchestrator.Orchestrator
	Workflow     *workflow.Workflow
	Queue        *queue.Queue
	Approvals    *approval.Manager
	Memories     *memory.Service
	Token        string
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/threads", handleCreateThread(deps))
		r.Get("/threads", handleListThreads(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Get("/threads/{id}/history", handleThreadHistory(deps))
		r.Post("/threads/{id}/chat", handleChat(deps))
		r.Post("/threads/{id}/stream", handleStream(deps))
		r.Post("/threads/{id}/cancel", handleCancel(deps))

		r.Get("/approvals", handleListApprovals(deps))
		r.Post("/approvals/{id}/review", handleReviewApproval(deps))

		r.Post("/orchestrate", handleOrchestrate(deps))
		r.Post("/workflows/execute", handleExecuteWorkflow(deps))

		r.Get("/queue/stats", handleQueueStats(deps))
		r.Post("/queue/retry-failed", handleRetryFailed(deps))

		r.Get("/memories", handleSearchMemories(deps))
		r.Post("/memories", handleRecordMemory(deps))
		r.Delete("/memories/{id}", handleDeleteMemory(deps))
	})

	return r
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
