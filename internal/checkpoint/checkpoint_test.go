package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchard-run/orchard/internal/store"
)

func newTestSaver(t *testing.T) (*Saver, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "orchard.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	now := time.Now().UTC()
	if err := st.InsertThread(context.Background(), &store.Thread{
		ThreadID: "th-1", OwnerID: "o-1", Status: store.ThreadActive, CreatedAt: now, LastActivityAt: now,
	}); err != nil {
		t.Fatalf("insert thread: %v", err)
	}
	return NewSaver(st), st
}

func TestSaveAndLatestRoundTrip(t *testing.T) {
	s, _ := newTestSaver(t)
	ctx := context.Background()

	st := &State{Graph: "workflow", NextStage: "execute", Status: StatusRunning}
	st.Set("action_type", "send-email")

	id, err := s.Save(ctx, "th-1", st, "", 0)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id == "" {
		t.Fatal("expected checkpoint id")
	}

	got, err := s.Latest(ctx, "th-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.State.NextStage != "execute" || got.State.Status != StatusRunning {
		t.Fatalf("unexpected state: %+v", got.State)
	}
	if v, _ := got.State.Value("action_type"); v != "send-email" {
		t.Fatalf("expected action_type preserved, got %v", v)
	}
}

func TestStaleVersionDoesNotWrite(t *testing.T) {
	s, _ := newTestSaver(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "th-1", &State{Graph: "workflow", Status: StatusRunning}, "", 0); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err := s.Save(ctx, "th-1", &State{Graph: "workflow", Status: StatusRunning}, "", 0)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	hist, _ := s.History(ctx, "th-1", 10)
	if len(hist) != 1 {
		t.Fatalf("expected single checkpoint, got %d", len(hist))
	}
}

func TestHistoryParentChain(t *testing.T) {
	s, _ := newTestSaver(t)
	ctx := context.Background()

	first, err := s.Save(ctx, "th-1", &State{Graph: "orchestrator", NextStage: "plan", Status: StatusRunning}, "", 0)
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := s.Save(ctx, "th-1", &State{Graph: "orchestrator", NextStage: "delegate", Status: StatusRunning}, first, 1)
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	hist, err := s.History(ctx, "th-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(hist))
	}
	if hist[0].CheckpointID != second || hist[0].ParentCheckpointID != first {
		t.Fatalf("unexpected chain head: %+v", hist[0])
	}
}

func TestInterruptStateSurvivesReload(t *testing.T) {
	s, _ := newTestSaver(t)
	ctx := context.Background()

	st := &State{
		Graph:     "workflow",
		NextStage: "execute",
		Status:    StatusInterrupted,
		Interrupt: &Interrupt{ApprovalID: "ap-1", ActionType: "create-pr"},
	}
	if _, err := s.Save(ctx, "th-1", st, "", 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Latest(ctx, "th-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.State.Interrupt == nil || got.State.Interrupt.ApprovalID != "ap-1" {
		t.Fatalf("expected interrupt marker, got %+v", got.State)
	}
	if got.State.Terminal() {
		t.Fatal("interrupted state must not be terminal")
	}
}
