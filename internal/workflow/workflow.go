// Package workflow drives external side effects through the
// validate -> requestApproval -> execute -> logResult graph. Unknown actions
// fail before any approval is requested; approvals suspend the execution
// behind an interrupt checkpoint; execution failures never retry
// automatically, they land in logResult as a failed run so a retry is always
// a fresh job and side effects cannot double-fire.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orchard-run/orchard/internal/action"
	"github.com/orchard-run/orchard/internal/approval"
	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/graph"
	"github.com/orchard-run/orchard/internal/policy"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
	"github.com/orchard-run/orchard/internal/usage"
)

// GraphName identifies workflow checkpoints.
const GraphName = "workflow"

// DefaultExecTimeout bounds a single external action call.
const DefaultExecTimeout = 60 * time.Second

// State value keys.
const (
	keyActionType = "action_type"
	keyPayload    = "payload"
	keyOwner      = "owner_id"
	keyJobID      = "job_id"
	keyExecStatus = "exec_status"
	keyExecOutput = "exec_output"
	keyExecError  = "exec_error"
	keyExecMs     = "exec_ms"
)

// Execution statuses recorded by the execute stage.
const (
	execCompleted = "completed"
	execFailed    = "failed"
)

// Config wires the workflow engine's collaborators.
type Config struct {
	Store       *store.Store
	Saver       *checkpoint.Saver
	Threads     *thread.Manager
	Registry    *tools.Registry
	Policy      policy.Policy
	Approvals   *approval.Manager
	Executor    action.Executor
	Usage       usage.Emitter
	Cancels     *graph.CancelRegistry
	ExecTimeout time.Duration
}

// Workflow drives the four-stage action execution graph.
type Workflow struct {
	engine      *graph.Engine
	store       *store.Store
	registry    *tools.Registry
	policy      policy.Policy
	approvals   *approval.Manager
	executor    action.Executor
	usage       usage.Emitter
	execTimeout time.Duration
}

// New builds a workflow engine on the shared graph plumbing.
func New(cfg Config) *Workflow {
	w := &Workflow{
		store:       cfg.Store,
		registry:    cfg.Registry,
		policy:      cfg.Policy,
		approvals:   cfg.Approvals,
		executor:    cfg.Executor,
		usage:       cfg.Usage,
		execTimeout: cfg.ExecTimeout,
	}
	if w.execTimeout <= 0 {
		w.execTimeout = DefaultExecTimeout
	}
	if w.usage == nil {
		w.usage = usage.LogEmitter{}
	}
	w.engine = graph.New(GraphName, []graph.Stage{
		{Name: "validate", Run: w.validate},
		{Name: "requestApproval", Run: w.requestApproval},
		{Name: "execute", Run: w.execute},
		{Name: "logResult", Run: w.logResult},
	}, cfg.Saver, cfg.Threads, cfg.Cancels)
	return w
}

// Engine exposes the underlying graph engine for cancellation and resume.
func (w *Workflow) Engine() *graph.Engine { return w.engine }

// Request describes one action invocation. JobID is set when the run is
// driven by a queue job, so audit rows can reference it.
type Request struct {
	ThreadID   string
	OwnerID    string
	ActionType string
	Payload    map[string]any
	JobID      string
}

// Execute starts a fresh workflow run for one action on a thread.
func (w *Workflow) Execute(ctx context.Context, req Request) (*graph.Result, error) {
	st := &checkpoint.State{}
	st.Set(keyActionType, req.ActionType)
	st.Set(keyPayload, req.Payload)
	st.Set(keyOwner, req.OwnerID)
	if req.JobID != "" {
		st.Set(keyJobID, req.JobID)
	}
	return w.engine.Start(ctx, req.ThreadID, st)
}

// Resume continues a workflow from its latest checkpoint. Approved
// executions pick up at requestApproval, verify the grant, and move on to
// execute.
func (w *Workflow) Resume(ctx context.Context, threadID string) (*graph.Result, error) {
	return w.engine.Resume(ctx, threadID)
}

func (w *Workflow) validate(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	actionType, _ := checkpoint.ValueAs[string](run.State, keyActionType)
	if actionType == "" {
		return graph.StageResult{Fail: "action type required"}, nil
	}
	if _, err := w.registry.Get(actionType); err != nil {
		// Unknown actions fail fast; no approval is ever requested for them.
		return graph.StageResult{Fail: err.Error()}, nil
	}
	return graph.StageResult{}, nil
}

func (w *Workflow) requestApproval(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	actionType, _ := checkpoint.ValueAs[string](run.State, keyActionType)
	act, err := w.registry.Get(actionType)
	if err != nil {
		return graph.StageResult{Fail: err.Error()}, nil
	}

	// Re-entry after suspension: the interrupt marker is still on the state,
	// so check how the reviewer decided before moving on.
	if run.State.Interrupt != nil {
		return w.checkResolved(ctx, run)
	}

	decision := w.policy.Evaluate(act)
	if !decision.RequiresApproval {
		return graph.StageResult{}, nil
	}

	payload, _ := checkpoint.ValueAs[map[string]any](run.State, keyPayload)
	_, _, err = w.approvals.RequestApproval(ctx, approval.Request{
		ThreadID:           run.ThreadID,
		ActionType:         actionType,
		Payload:            payload,
		Risk:               act.Risk,
		State:              run.State,
		ParentCheckpointID: run.ParentCheckpointID(),
		Lease:              run.Lease(),
	})
	if err != nil {
		return graph.StageResult{}, err
	}
	return graph.StageResult{Suspend: true}, nil
}

// checkResolved inspects the approval a resumed execution was suspended on.
func (w *Workflow) checkResolved(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	a, err := w.approvals.Get(ctx, run.State.Interrupt.ApprovalID)
	if err != nil {
		return graph.StageResult{}, fmt.Errorf("load approval: %w", err)
	}
	switch a.Status {
	case store.ApprovalApproved:
		run.State.Interrupt = nil
		return graph.StageResult{}, nil
	case store.ApprovalPending:
		// Still waiting. The interrupt checkpoint is already the latest row,
		// so suspend again without another write.
		return graph.StageResult{Suspend: true}, nil
	default:
		return graph.StageResult{Fail: "approval " + a.Status}, nil
	}
}

func (w *Workflow) execute(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	actionType, _ := checkpoint.ValueAs[string](run.State, keyActionType)
	payload, _ := checkpoint.ValueAs[map[string]any](run.State, keyPayload)

	started := time.Now()
	res, err := w.executor.Execute(ctx, actionType, payload, w.execTimeout)
	elapsed := time.Since(started)
	run.State.Set(keyExecMs, elapsed.Milliseconds())
	if err != nil {
		// Executor errors and timeouts are recorded, never retried in place.
		// A retry is a fresh job so the side effect cannot run twice.
		slog.Warn("action execution failed", "thread_id", run.ThreadID, "action_type", actionType, "error", err, "duration", elapsed)
		run.State.Set(keyExecStatus, execFailed)
		run.State.Set(keyExecError, err.Error())
		return graph.StageResult{}, nil
	}
	run.State.Set(keyExecStatus, execCompleted)
	run.State.Set(keyExecOutput, res.Output)
	return graph.StageResult{}, nil
}

// logResult always runs, success or failure, and is the only stage that
// emits the usage/audit event billing consumes.
func (w *Workflow) logResult(ctx context.Context, run *graph.Run) (graph.StageResult, error) {
	actionType, _ := checkpoint.ValueAs[string](run.State, keyActionType)
	ownerID, _ := checkpoint.ValueAs[string](run.State, keyOwner)
	jobID, _ := checkpoint.ValueAs[string](run.State, keyJobID)
	status, _ := checkpoint.ValueAs[string](run.State, keyExecStatus)
	execErr, _ := checkpoint.ValueAs[string](run.State, keyExecError)
	ms, _ := checkpoint.ValueAs[int64](run.State, keyExecMs)

	w.usage.Emit(usage.Event{
		ThreadID:   run.ThreadID,
		JobID:      jobID,
		OwnerID:    ownerID,
		Kind:       "action",
		ActionType: actionType,
		Status:     status,
		DurationMs: ms,
		At:         time.Now().UTC(),
	})
	if w.store != nil {
		err := w.store.InsertExecutionLog(ctx, &store.ExecutionLog{
			ThreadID:   run.ThreadID,
			JobID:      jobID,
			ActionType: actionType,
			Stage:      "logResult",
			Status:     status,
			Detail:     execErr,
			DurationMs: ms,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("execution log write failed", "thread_id", run.ThreadID, "error", err)
		}
	}

	if status != execCompleted {
		return graph.StageResult{Fail: "action failed: " + execErr}, nil
	}
	return graph.StageResult{}, nil
}

// Output extracts the executed action's output from a terminal state.
func Output(st *checkpoint.State) (map[string]any, bool) {
	return checkpoint.ValueAs[map[string]any](st, keyExecOutput)
}
