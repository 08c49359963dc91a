// Package graph runs fixed sequences of named stages with a checkpoint after
// every transition. Executions are re-entrant at stage boundaries: resuming a
// thread means loading its latest checkpoint and re-entering at the recorded
// stage. Suspension (for approvals), cooperative cancellation, and stale-lease
// detection all happen here so the engines built on top stay declarative.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/thread"
)

// ErrStageNotFound indicates a checkpoint references a stage the graph no
// longer declares.
var ErrStageNotFound = errors.New("stage not found")

// StageResult tells the engine what to do after a stage returns.
type StageResult struct {
	// Suspend means the stage persisted its own interrupt checkpoint and the
	// execution must release its slot without another write.
	Suspend bool
	// Fail terminates the execution with this reason when non-empty.
	Fail string
}

// Run is the per-execution context handed to stages.
type Run struct {
	ThreadID string
	State    *checkpoint.State

	lease    thread.Lease
	parentID string
}

// Lease returns the thread lease for the current write position.
func (r *Run) Lease() thread.Lease { return r.lease }

// ParentCheckpointID returns the checkpoint the next write should chain to.
func (r *Run) ParentCheckpointID() string { return r.parentID }

// StageFunc executes one stage of a graph.
type StageFunc func(ctx context.Context, run *Run) (StageResult, error)

// Stage is a named step in a graph.
type Stage struct {
	Name string
	Run  StageFunc
}

// Result is the outcome of driving a graph until it suspends or terminates.
type Result struct {
	ThreadID     string
	Status       string // running is never returned; interrupted, completed, failed, cancelled
	FailedFor    string
	CheckpointID string
	State        *checkpoint.State
}

// CancelRegistry tracks cooperative cancellation flags per thread. The engine
// checks it at each stage boundary, never mid-external-call.
type CancelRegistry struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancelled: make(map[string]bool)}
}

// Cancel flags a thread's in-flight execution for cancellation.
func (c *CancelRegistry) Cancel(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[threadID] = true
}

// take consumes a pending cancellation flag.
func (c *CancelRegistry) take(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled[threadID] {
		delete(c.cancelled, threadID)
		return true
	}
	return false
}

// Engine drives a declared stage sequence over checkpointed state.
type Engine struct {
	name    string
	stages  []Stage
	saver   *checkpoint.Saver
	threads *thread.Manager
	cancels *CancelRegistry
}

// New creates an engine for the named graph.
func New(name string, stages []Stage, saver *checkpoint.Saver, threads *thread.Manager, cancels *CancelRegistry) *Engine {
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	return &Engine{name: name, stages: stages, saver: saver, threads: threads, cancels: cancels}
}

// Cancels exposes the registry so callers can flag cancellation.
func (e *Engine) Cancels() *CancelRegistry { return e.cancels }

// Start begins a fresh execution on a thread with the given initial state.
func (e *Engine) Start(ctx context.Context, threadID string, st *checkpoint.State) (*Result, error) {
	st.Graph = e.name
	st.Status = checkpoint.StatusRunning
	if st.NextStage == "" {
		st.NextStage = e.stages[0].Name
	}
	return e.drive(ctx, threadID, st, "")
}

// Resume continues a thread from its latest checkpoint. Terminal checkpoints
// are returned as-is; interrupted checkpoints resume only after the stage
// logic decides the interrupt is cleared (the stage re-runs and checks).
func (e *Engine) Resume(ctx context.Context, threadID string) (*Result, error) {
	cp, err := e.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	st := cp.State
	if st.Terminal() {
		return &Result{ThreadID: threadID, Status: st.Status, FailedFor: st.FailedFor, CheckpointID: cp.CheckpointID, State: st}, nil
	}
	st.Status = checkpoint.StatusRunning
	return e.drive(ctx, threadID, st, cp.CheckpointID)
}

func (e *Engine) drive(ctx context.Context, threadID string, st *checkpoint.State, parentID string) (*Result, error) {
	lease, err := e.threads.Acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}

	for {
		if e.cancels.take(threadID) {
			return e.finalize(ctx, threadID, st, parentID, &lease, checkpoint.StatusCancelled, "cancelled by owner")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := e.stageIndex(st.NextStage)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrStageNotFound, e.name, st.NextStage)
		}
		stage := e.stages[idx]

		run := &Run{ThreadID: threadID, State: st, lease: lease, parentID: parentID}
		res, err := stage.Run(ctx, run)
		if err != nil {
			// Stage-local errors are not retried here; the queue owns retry
			// with backoff, resuming from the last checkpoint.
			return nil, fmt.Errorf("stage %s/%s: %w", e.name, stage.Name, err)
		}
		if res.Suspend {
			slog.Info("graph suspended", "graph", e.name, "thread_id", threadID, "stage", stage.Name)
			return &Result{ThreadID: threadID, Status: checkpoint.StatusInterrupted, State: st}, nil
		}
		if res.Fail != "" {
			return e.finalize(ctx, threadID, st, parentID, &lease, checkpoint.StatusFailed, res.Fail)
		}

		last := idx == len(e.stages)-1
		if last {
			return e.finalize(ctx, threadID, st, parentID, &lease, checkpoint.StatusCompleted, "")
		}
		st.NextStage = e.stages[idx+1].Name
		cpID, err := e.saver.Save(ctx, threadID, st, parentID, lease.Version)
		if err != nil {
			return nil, err
		}
		parentID = cpID
		lease.Version++
	}
}

func (e *Engine) finalize(ctx context.Context, threadID string, st *checkpoint.State, parentID string, lease *thread.Lease, status, reason string) (*Result, error) {
	st.Status = status
	st.NextStage = ""
	if status == checkpoint.StatusFailed || status == checkpoint.StatusCancelled {
		st.FailedFor = reason
	}
	cpID, err := e.saver.Save(ctx, threadID, st, parentID, lease.Version)
	if err != nil {
		return nil, err
	}
	return &Result{ThreadID: threadID, Status: status, FailedFor: st.FailedFor, CheckpointID: cpID, State: st}, nil
}

func (e *Engine) stageIndex(name string) int {
	for i, s := range e.stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}
