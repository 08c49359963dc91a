package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
)

func newTestEnv(t *testing.T) (*store.Store, *checkpoint.Saver, *thread.Manager, string) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "orchard.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	threads := thread.NewManager(st)
	th, err := threads.Create(context.Background(), "owner-1", "assistant", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return st, checkpoint.NewSaver(st), threads, th.ThreadID
}

func passStage(name string) Stage {
	return Stage{Name: name, Run: func(ctx context.Context, run *Run) (StageResult, error) {
		visits, _ := run.State.Value("visited")
		s, _ := visits.(string)
		run.State.Set("visited", s+name+";")
		return StageResult{}, nil
	}}
}

func TestRunWritesCheckpointPerTransition(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)
	e := New("test", []Stage{passStage("a"), passStage("b"), passStage("c")}, saver, threads, nil)

	res, err := e.Start(context.Background(), threadID, &checkpoint.State{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if v, _ := res.State.Value("visited"); v != "a;b;c;" {
		t.Fatalf("unexpected stage order: %v", v)
	}

	hist, err := saver.History(context.Background(), threadID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// a->b, b->c transitions plus the terminal checkpoint.
	if len(hist) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(hist))
	}
	for i := 0; i < len(hist)-1; i++ {
		if hist[i].ParentCheckpointID != hist[i+1].CheckpointID {
			t.Fatalf("broken parent chain at %d", i)
		}
	}
}

func TestResumeReentersAtRecordedStage(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)

	// First run suspends at stage b.
	suspendOnce := true
	stages := []Stage{
		passStage("a"),
		{Name: "b", Run: func(ctx context.Context, run *Run) (StageResult, error) {
			if suspendOnce {
				suspendOnce = false
				// Persist an interrupt checkpoint the way the approval path does.
				run.State.Status = checkpoint.StatusInterrupted
				if _, err := saver.Save(ctx, run.ThreadID, run.State, run.ParentCheckpointID(), run.Lease().Version); err != nil {
					return StageResult{}, err
				}
				return StageResult{Suspend: true}, nil
			}
			run.State.Set("b_done", true)
			return StageResult{}, nil
		}},
		passStage("c"),
	}
	e := New("test", stages, saver, threads, nil)

	res, err := e.Start(context.Background(), threadID, &checkpoint.State{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != checkpoint.StatusInterrupted {
		t.Fatalf("expected interrupted, got %s", res.Status)
	}

	// Resume: b runs again and completes, then c.
	res, err = e.Resume(context.Background(), threadID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", res.Status)
	}
	if v, _ := res.State.Value("b_done"); v != true {
		t.Fatal("expected b to complete on resume")
	}
	if v, _ := res.State.Value("visited"); v != "a;c;" {
		t.Fatalf("unexpected visits: %v", v)
	}
}

func TestResumeTerminalReturnsAsIs(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)
	e := New("test", []Stage{passStage("a")}, saver, threads, nil)

	if _, err := e.Start(context.Background(), threadID, &checkpoint.State{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := e.Resume(context.Background(), threadID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
}

func TestStageFailureWritesTerminalCheckpoint(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)
	stages := []Stage{
		passStage("a"),
		{Name: "b", Run: func(ctx context.Context, run *Run) (StageResult, error) {
			return StageResult{Fail: "validation_failed"}, nil
		}},
	}
	e := New("test", stages, saver, threads, nil)

	res, err := e.Start(context.Background(), threadID, &checkpoint.State{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != checkpoint.StatusFailed || res.FailedFor != "validation_failed" {
		t.Fatalf("unexpected result: %+v", res)
	}
	cp, _ := saver.Latest(context.Background(), threadID)
	if cp.State.Status != checkpoint.StatusFailed {
		t.Fatalf("terminal checkpoint not persisted: %+v", cp.State)
	}
}

func TestStageErrorPropagatesWithoutCheckpoint(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)
	boom := errors.New("provider timeout")
	stages := []Stage{{Name: "a", Run: func(ctx context.Context, run *Run) (StageResult, error) {
		return StageResult{}, boom
	}}}
	e := New("test", stages, saver, threads, nil)

	_, err := e.Start(context.Background(), threadID, &checkpoint.State{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected stage error, got %v", err)
	}
	// Retryable errors leave no checkpoint behind; the queue resumes from the
	// previous one.
	if _, err := saver.Latest(context.Background(), threadID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no checkpoint, got %v", err)
	}
}

func TestCooperativeCancellation(t *testing.T) {
	_, saver, threads, threadID := newTestEnv(t)
	cancels := NewCancelRegistry()
	ran := false
	stages := []Stage{
		{Name: "a", Run: func(ctx context.Context, run *Run) (StageResult, error) {
			// Owner cancels while stage a runs; engine notices at the boundary.
			cancels.Cancel(run.ThreadID)
			return StageResult{}, nil
		}},
		{Name: "b", Run: func(ctx context.Context, run *Run) (StageResult, error) {
			ran = true
			return StageResult{}, nil
		}},
	}
	e := New("test", stages, saver, threads, cancels)

	res, err := e.Start(context.Background(), threadID, &checkpoint.State{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != checkpoint.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if ran {
		t.Fatal("stage b must not run after cancellation")
	}
	cp, _ := saver.Latest(context.Background(), threadID)
	if cp.State.Status != checkpoint.StatusCancelled {
		t.Fatalf("expected cancelled checkpoint, got %+v", cp.State)
	}
}
