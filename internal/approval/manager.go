// Package approval gates risky actions behind human review. An approval in
// pending blocks exactly one suspended graph checkpoint; resolving it is the
// only way to unblock that checkpoint, and terminal statuses are immutable.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/notify"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
)

// Terminal failure reasons recorded on the owning execution.
const (
	ReasonRejected = "rejected"
	ReasonExpired  = "approval_expired"
)

// ErrInvalidDecision indicates a resolve decision other than approve/reject.
var ErrInvalidDecision = errors.New("invalid decision")

// Resumer re-enqueues a suspended graph execution once its approval is
// granted. The orchestration queue implements it.
type Resumer interface {
	ResumeApproved(ctx context.Context, a *store.Approval) error
}

// Request carries everything needed to suspend an execution behind a gate.
type Request struct {
	ThreadID   string
	ActionType string
	Payload    map[string]any
	Risk       tools.RiskLevel
	// State is the graph state to persist with the interrupt marker.
	State *checkpoint.State
	// ParentCheckpointID chains the interrupt checkpoint to its predecessor.
	ParentCheckpointID string
	// Lease is the caller's thread lease.
	Lease thread.Lease
}

// Manager owns the approval state machine.
type Manager struct {
	store    *store.Store
	saver    *checkpoint.Saver
	threads  *thread.Manager
	notifier notify.Notifier
	resumer  Resumer
}

// NewManager creates an approval manager. notifier may be nil.
func NewManager(st *store.Store, saver *checkpoint.Saver, threads *thread.Manager, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Manager{store: st, saver: saver, threads: threads, notifier: notifier}
}

// SetResumer wires the queue in after construction; the queue depends on the
// graph engines, which depend on this manager.
func (m *Manager) SetResumer(r Resumer) { m.resumer = r }

// RequestApproval writes the interrupt checkpoint under the caller's lease and
// creates the pending approval that blocks it. On a stale lease nothing is
// persisted and store.ErrConflict is returned.
func (m *Manager) RequestApproval(ctx context.Context, req Request) (*store.Approval, string, error) {
	approvalID := uuid.NewString()

	req.State.Status = checkpoint.StatusInterrupted
	req.State.Interrupt = &checkpoint.Interrupt{
		ApprovalID: approvalID,
		ActionType: req.ActionType,
	}
	cpID, err := m.saver.Save(ctx, req.ThreadID, req.State, req.ParentCheckpointID, req.Lease.Version)
	if err != nil {
		return nil, "", fmt.Errorf("write interrupt checkpoint: %w", err)
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode approval payload: %w", err)
	}
	a := &store.Approval{
		ApprovalID:   approvalID,
		ThreadID:     req.ThreadID,
		CheckpointID: cpID,
		ActionType:   req.ActionType,
		Payload:      string(payload),
		RiskLevel:    req.Risk.String(),
		Status:       store.ApprovalPending,
		RequestedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertApproval(ctx, a); err != nil {
		return nil, "", err
	}

	slog.Info("approval requested", "approval_id", approvalID, "thread_id", req.ThreadID, "action_type", req.ActionType, "risk", a.RiskLevel)
	m.notifier.ApprovalRequested(ctx, a)
	return a, cpID, nil
}

// Get returns an approval by ID.
func (m *Manager) Get(ctx context.Context, approvalID string) (*store.Approval, error) {
	return m.store.GetApproval(ctx, approvalID)
}

// Pending lists approvals awaiting review.
func (m *Manager) Pending(ctx context.Context) ([]store.Approval, error) {
	return m.store.PendingApprovals(ctx)
}

// Resolve applies a human decision. Approval re-enqueues the suspended
// execution; rejection finalizes it as failed with reason "rejected". A
// second resolve returns store.ErrAlreadyResolved.
func (m *Manager) Resolve(ctx context.Context, approvalID, decision, resolvedBy, reason string) (*store.Approval, error) {
	var status string
	switch decision {
	case "approve", store.ApprovalApproved:
		status = store.ApprovalApproved
	case "reject", store.ApprovalRejected:
		status = store.ApprovalRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	a, err := m.store.ResolveApproval(ctx, approvalID, status, resolvedBy, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	slog.Info("approval resolved", "approval_id", approvalID, "status", status, "resolved_by", resolvedBy)

	switch status {
	case store.ApprovalApproved:
		if m.resumer != nil {
			if err := m.resumer.ResumeApproved(ctx, a); err != nil {
				return a, fmt.Errorf("re-enqueue approved execution: %w", err)
			}
		}
	case store.ApprovalRejected:
		if err := m.failSuspended(ctx, a, ReasonRejected); err != nil {
			return a, err
		}
	}
	return a, nil
}

// SweepExpired moves pending approvals older than timeout to expired and
// fails their owning executions with reason "approval_expired". Returns the
// number of approvals expired.
func (m *Manager) SweepExpired(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	stale, err := m.store.PendingApprovalsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range stale {
		a, err := m.store.ResolveApproval(ctx, stale[i].ApprovalID, store.ApprovalExpired, "system", ReasonExpired, time.Now().UTC())
		if errors.Is(err, store.ErrAlreadyResolved) {
			continue // raced a human decision; theirs wins
		}
		if err != nil {
			return count, err
		}
		if err := m.failSuspended(ctx, a, ReasonExpired); err != nil {
			return count, err
		}
		slog.Warn("approval expired", "approval_id", a.ApprovalID, "thread_id", a.ThreadID, "action_type", a.ActionType)
		count++
	}
	return count, nil
}

// failSuspended writes the terminal failed checkpoint for the execution an
// approval was blocking. The owning execution is marked failed, never
// silently dropped.
func (m *Manager) failSuspended(ctx context.Context, a *store.Approval, reason string) error {
	cp, err := m.saver.Latest(ctx, a.ThreadID)
	if err != nil {
		return fmt.Errorf("load suspended checkpoint: %w", err)
	}
	if cp.State.Interrupt == nil || cp.State.Interrupt.ApprovalID != a.ApprovalID {
		// The thread moved on; nothing left to finalize.
		return nil
	}
	lease, err := m.threads.Acquire(ctx, a.ThreadID)
	if err != nil {
		return err
	}
	st := cp.State
	st.Status = checkpoint.StatusFailed
	st.FailedFor = reason
	st.Interrupt = nil
	st.NextStage = ""
	if _, err := m.saver.Save(ctx, a.ThreadID, st, cp.CheckpointID, lease.Version); err != nil {
		return fmt.Errorf("finalize suspended execution: %w", err)
	}

	// Terminal approvals leave an audit row just like completed runs do.
	detail, _ := json.Marshal(map[string]string{
		"approval_id": a.ApprovalID,
		"action_type": a.ActionType,
		"reason":      reason,
	})
	if err := m.store.InsertExecutionLog(ctx, &store.ExecutionLog{
		ThreadID:  a.ThreadID,
		Stage:     "approval",
		Status:    "failed",
		Detail:    string(detail),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("execution log write failed", "thread_id", a.ThreadID, "error", err)
	}
	return nil
}
