package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orchard-run/orchard/internal/approval"
	"github.com/orchard-run/orchard/internal/queue"
	"github.com/orchard-run/orchard/internal/store"
)

func handleListApprovals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && status != store.ApprovalPending {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "only status=pending is supported")
			return
		}
		pending, err := deps.Approvals.Pending(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "list approvals: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
	}
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

func handleReviewApproval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Reviewer == "" {
			req.Reviewer = "api"
		}
		a, err := deps.Approvals.Resolve(r.Context(), chi.URLParam(r, "id"), req.Decision, req.Reviewer, req.Reason)
		switch {
		case errors.Is(err, approval.ErrInvalidDecision):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "decision must be approve or reject")
			return
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "approval not found")
			return
		case errors.Is(err, store.ErrAlreadyResolved):
			httpError(w, http.StatusConflict, "conflict_error", "approval already resolved")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "internal_error", "resolve approval: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type orchestrateRequest struct {
	ThreadID string `json:"thread_id"`
	OwnerID  string `json:"owner_id"`
	Text     string `json:"text"`
	Priority int    `json:"priority"`
	// Sync runs the graph in the request instead of queuing a job.
	Sync bool `json:"sync"`
}

func handleOrchestrate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		threadID, ownerID, ok := resolveThread(deps, w, r, req.ThreadID, req.OwnerID)
		if !ok {
			return
		}

		if req.Sync {
			res, err := deps.Orchestrator.Handle(r.Context(), threadID, ownerID, req.Text, req.Priority)
			if errors.Is(err, store.ErrConflict) {
				httpError(w, http.StatusConflict, "conflict_error", "thread has a concurrent execution in flight")
				return
			}
			if err != nil {
				httpError(w, http.StatusBadGateway, "upstream_error", "orchestrate: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, chatResult(res))
			return
		}

		jobID, err := deps.Queue.Enqueue(r.Context(), queue.EnqueueRequest{
			SubjectID:   threadID,
			TriggeredBy: "api",
			Kind:        queue.KindOrchestrate,
			Priority:    req.Priority,
			Payload:     queue.Payload{ThreadID: threadID, OwnerID: ownerID, Text: req.Text, Priority: req.Priority},
		})
		if errors.Is(err, queue.ErrThrottled) {
			httpError(w, http.StatusTooManyRequests, "throttled_error", "subject has recent work in the throttle window")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "enqueue: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "thread_id": threadID})
	}
}

type executeWorkflowRequest struct {
	ThreadID   string         `json:"thread_id"`
	OwnerID    string         `json:"owner_id"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
}

func handleExecuteWorkflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeWorkflowRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ActionType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action_type is required")
			return
		}
		threadID, ownerID, ok := resolveThread(deps, w, r, req.ThreadID, req.OwnerID)
		if !ok {
			return
		}
		jobID, err := deps.Queue.Enqueue(r.Context(), queue.EnqueueRequest{
			SubjectID:   threadID,
			TriggeredBy: "api",
			Kind:        queue.KindWorkflow,
			Payload:     queue.Payload{ThreadID: threadID, OwnerID: ownerID, ActionType: req.ActionType, ActionPayload: req.Payload},
		})
		if errors.Is(err, queue.ErrThrottled) {
			httpError(w, http.StatusTooManyRequests, "throttled_error", "subject has recent work in the throttle window")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "enqueue: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "thread_id": threadID})
	}
}

// resolveThread loads the referenced thread, or creates one when only an
// owner is given.
func resolveThread(deps Deps, w http.ResponseWriter, r *http.Request, threadID, ownerID string) (string, string, bool) {
	if threadID != "" {
		th, err := deps.Threads.Get(r.Context(), threadID)
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "thread not found")
			return "", "", false
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "get thread: %v", err)
			return "", "", false
		}
		return th.ThreadID, th.OwnerID, true
	}
	if ownerID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "thread_id or owner_id is required")
		return "", "", false
	}
	th, err := deps.Threads.Create(r.Context(), ownerID, "orchestrator", "")
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal_error", "create thread: %v", err)
		return "", "", false
	}
	return th.ThreadID, th.OwnerID, true
}

func handleQueueStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Queue.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleRetryFailed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Queue.RetryAllFailed(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "retry failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
	}
}

func handleSearchMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ownerID := q.Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		if query := q.Get("q"); query != "" {
			hits, err := deps.Memories.Search(r.Context(), ownerID, query, limit)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "internal_error", "search memories: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"results": hits})
			return
		}
		memories, err := deps.Memories.List(r.Context(), ownerID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "list memories: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
	}
}

type recordMemoryRequest struct {
	OwnerID  string `json:"owner_id"`
	ThreadID string `json:"thread_id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
}

func handleRecordMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordMemoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		m, err := deps.Memories.Record(r.Context(), req.OwnerID, req.ThreadID, req.Type, req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "record memory: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Memories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "memory not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "internal_error", "delete memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
