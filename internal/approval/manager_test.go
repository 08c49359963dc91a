package approval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
)

type recordingResumer struct {
	resumed []string
}

func (r *recordingResumer) ResumeApproved(_ context.Context, a *store.Approval) error {
	r.resumed = append(r.resumed, a.ApprovalID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *thread.Manager, *store.Store, *recordingResumer) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "orchard.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	threads := thread.NewManager(st)
	m := NewManager(st, checkpoint.NewSaver(st), threads, nil)
	r := &recordingResumer{}
	m.SetResumer(r)
	return m, threads, st, r
}

func requestTestApproval(t *testing.T, m *Manager, threads *thread.Manager) *store.Approval {
	t.Helper()
	ctx := context.Background()
	th, err := threads.Create(ctx, "owner-1", "assistant", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	lease, err := threads.Acquire(ctx, th.ThreadID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	st := &checkpoint.State{Graph: "workflow", NextStage: "execute", Status: checkpoint.StatusRunning}
	a, _, err := m.RequestApproval(ctx, Request{
		ThreadID:   th.ThreadID,
		ActionType: "create-pr",
		Payload:    map[string]any{"repo": "orchard"},
		Risk:       tools.RiskHigh,
		State:      st,
		Lease:      lease,
	})
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	return a
}

func TestRequestWritesInterruptCheckpoint(t *testing.T) {
	m, threads, st, _ := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	if a.Status != store.ApprovalPending || a.RiskLevel != "high" {
		t.Fatalf("unexpected approval: %+v", a)
	}

	cp, err := checkpoint.NewSaver(st).Latest(ctx, a.ThreadID)
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if cp.State.Status != checkpoint.StatusInterrupted {
		t.Fatalf("expected interrupted state, got %s", cp.State.Status)
	}
	if cp.State.Interrupt == nil || cp.State.Interrupt.ApprovalID != a.ApprovalID {
		t.Fatalf("interrupt marker missing or mismatched: %+v", cp.State.Interrupt)
	}
	if a.CheckpointID != cp.CheckpointID {
		t.Fatalf("approval should reference the interrupt checkpoint")
	}
}

func TestApproveResumesExecution(t *testing.T) {
	m, threads, _, r := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	res, err := m.Resolve(ctx, a.ApprovalID, "approve", "alice", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != store.ApprovalApproved {
		t.Fatalf("expected approved: %+v", res)
	}
	if len(r.resumed) != 1 || r.resumed[0] != a.ApprovalID {
		t.Fatalf("expected resume for %s, got %v", a.ApprovalID, r.resumed)
	}
}

func TestRejectFailsExecutionWithReason(t *testing.T) {
	m, threads, st, r := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	res, err := m.Resolve(ctx, a.ApprovalID, "reject", "bob", "too risky")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != store.ApprovalRejected || res.Reason != "too risky" {
		t.Fatalf("unexpected approval: %+v", res)
	}
	if len(r.resumed) != 0 {
		t.Fatalf("rejected approval must not resume: %v", r.resumed)
	}

	cp, _ := checkpoint.NewSaver(st).Latest(ctx, a.ThreadID)
	if cp.State.Status != checkpoint.StatusFailed || cp.State.FailedFor != ReasonRejected {
		t.Fatalf("expected failed/rejected terminal state: %+v", cp.State)
	}

	logs, err := st.ExecutionLogsForThread(ctx, a.ThreadID, 10)
	if err != nil {
		t.Fatalf("execution logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Stage != "approval" || logs[0].Status != "failed" {
		t.Fatalf("expected an approval audit row, got %+v", logs)
	}
	if !strings.Contains(logs[0].Detail, a.ApprovalID) || !strings.Contains(logs[0].Detail, ReasonRejected) {
		t.Fatalf("audit detail missing approval or reason: %q", logs[0].Detail)
	}
}

func TestResolveIsTerminal(t *testing.T) {
	m, threads, _, _ := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	if _, err := m.Resolve(ctx, a.ApprovalID, "approve", "alice", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := m.Resolve(ctx, a.ApprovalID, "reject", "bob", "")
	if !errors.Is(err, store.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolveRejectsInvalidDecision(t *testing.T) {
	m, threads, _, _ := newTestManager(t)
	a := requestTestApproval(t, m, threads)
	if _, err := m.Resolve(context.Background(), a.ApprovalID, "maybe", "alice", ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	m, threads, st, _ := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	// Backdate the request past the timeout.
	if _, err := st.DB().ExecContext(ctx,
		`UPDATE approvals SET requested_at = ? WHERE approval_id = ?`,
		time.Now().UTC().Add(-48*time.Hour), a.ApprovalID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := m.SweepExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	got, _ := m.Get(ctx, a.ApprovalID)
	if got.Status != store.ApprovalExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	cp, _ := checkpoint.NewSaver(st).Latest(ctx, a.ThreadID)
	if cp.State.Status != checkpoint.StatusFailed || cp.State.FailedFor != ReasonExpired {
		t.Fatalf("expected approval_expired failure, got %+v", cp.State)
	}
	logs, _ := st.ExecutionLogsForThread(ctx, a.ThreadID, 10)
	if len(logs) != 1 || logs[0].Stage != "approval" || !strings.Contains(logs[0].Detail, ReasonExpired) {
		t.Fatalf("expected an expiry audit row, got %+v", logs)
	}
}

func TestSweepLeavesFreshPending(t *testing.T) {
	m, threads, _, _ := newTestManager(t)
	ctx := context.Background()

	a := requestTestApproval(t, m, threads)
	n, err := m.SweepExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing expired, got %d", n)
	}
	got, _ := m.Get(ctx, a.ApprovalID)
	if got.Status != store.ApprovalPending {
		t.Fatalf("expected still pending, got %s", got.Status)
	}
}
