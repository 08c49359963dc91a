package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/graph"
	"github.com/orchard-run/orchard/internal/orchestrator"
	"github.com/orchard-run/orchard/internal/store"
)

type createThreadRequest struct {
	OwnerID   string `json:"owner_id"`
	AgentKind string `json:"agent_kind"`
	Title     string `json:"title"`
}

func handleCreateThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createThreadRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		if req.AgentKind == "" {
			req.AgentKind = "orchestrator"
		}
		th, err := deps.Threads.Create(r.Context(), req.OwnerID, req.AgentKind, req.Title)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "create thread: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, th)
	}
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		threads, err := deps.Threads.List(r.Context(), r.URL.Query().Get("owner_id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "list threads: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		th, err := deps.Threads.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "get thread: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, th)
	}
}

func handleThreadHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		history, err := deps.Saver.History(r.Context(), threadID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "history: %v", err)
			return
		}
		logs, err := deps.Store.ExecutionLogsForThread(r.Context(), threadID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "logs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkpoints": history, "logs": logs})
	}
}

type chatRequest struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

type chatResponse struct {
	ThreadID string               `json:"thread_id"`
	Status   string               `json:"status"`
	Summary  string               `json:"summary,omitempty"`
	Outcome  *orchestrator.Outcome `json:"outcome,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// handleChat runs a synchronous turn: the orchestrator graph is driven to a
// terminal state (or interrupt) before the response is written.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		th, err := deps.Threads.Get(r.Context(), threadID)
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "get thread: %v", err)
			return
		}

		res, err := deps.Orchestrator.Handle(r.Context(), threadID, th.OwnerID, req.Text, req.Priority)
		if errors.Is(err, store.ErrConflict) {
			httpError(w, http.StatusConflict, "conflict_error", "thread has a concurrent execution in flight")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "upstream_error", "orchestrate: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, chatResult(res))
	}
}

// handleStream runs a turn and writes the response as server-sent events:
// chunk events carrying summary text, then one terminal event with the final
// status. A suspended run ends the stream with an interrupted terminal event.
func handleStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		th, err := deps.Threads.Get(r.Context(), threadID)
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "get thread: %v", err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		res, err := deps.Orchestrator.Handle(r.Context(), threadID, th.OwnerID, req.Text, req.Priority)
		if err != nil {
			writeEvent(w, flusher, "error", err.Error())
			return
		}
		if res.Status == checkpoint.StatusInterrupted {
			writeEvent(w, flusher, "interrupted", "awaiting approval")
			return
		}
		if out, ok := orchestrator.OutcomeOf(res.State); ok {
			for _, word := range strings.Fields(out.Summary) {
				writeEvent(w, flusher, "chunk", word)
			}
		}
		writeEvent(w, flusher, res.Status, res.FailedFor)
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	// SSE data lines must not contain raw newlines.
	data = strings.ReplaceAll(data, "\n", " ")
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + data + "\n\n"))
	flusher.Flush()
}

// handleCancel flags the thread's in-flight execution for cooperative
// cancellation at its next stage boundary.
func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		if _, err := deps.Threads.Get(r.Context(), threadID); errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "thread not found")
			return
		}
		deps.Orchestrator.Engine().Cancels().Cancel(threadID)
		deps.Workflow.Engine().Cancels().Cancel(threadID)
		writeJSON(w, http.StatusAccepted, map[string]string{"thread_id": threadID, "status": "cancel_requested"})
	}
}

func chatResult(res *graph.Result) chatResponse {
	resp := chatResponse{ThreadID: res.ThreadID, Status: res.Status, Reason: res.FailedFor}
	if out, ok := orchestrator.OutcomeOf(res.State); ok {
		resp.Summary = out.Summary
		resp.Outcome = &out
	}
	return resp
}
