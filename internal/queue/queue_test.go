package queue

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orchard-run/orchard/internal/action"
	"github.com/orchard-run/orchard/internal/approval"
	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/memory"
	"github.com/orchard-run/orchard/internal/orchestrator"
	"github.com/orchard-run/orchard/internal/policy"
	"github.com/orchard-run/orchard/internal/provider"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
	"github.com/orchard-run/orchard/internal/usage"
	"github.com/orchard-run/orchard/internal/workflow"
)

type testEnv struct {
	store     *store.Store
	saver     *checkpoint.Saver
	threads   *thread.Manager
	provider  *provider.Scripted
	executor  *action.Fake
	approvals *approval.Manager
	queue     *Queue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "orchard.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	saver := checkpoint.NewSaver(st)
	threads := thread.NewManager(st)
	prov := provider.NewScripted()
	registry := tools.NewRegistry().WithDefaults()
	approvals := approval.NewManager(st, saver, threads, nil)
	executor := action.NewFake()

	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Saver:    saver,
		Threads:  threads,
		Provider: prov,
		Registry: registry,
		Memories: memory.NewService(st, prov),
		Usage:    usage.Discard{},
	})
	wf := workflow.New(workflow.Config{
		Store:     st,
		Saver:     saver,
		Threads:   threads,
		Registry:  registry,
		Policy:    policy.Default(),
		Approvals: approvals,
		Executor:  executor,
		Usage:     usage.Discard{},
	})
	q := New(Config{
		Store:        st,
		Saver:        saver,
		Orchestrator: orch,
		Workflow:     wf,
		Retry:        RetryConfig{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3},
		JobTimeout:   time.Minute,
	})
	approvals.SetResumer(q)
	return &testEnv{
		store:     st,
		saver:     saver,
		threads:   threads,
		provider:  prov,
		executor:  executor,
		approvals: approvals,
		queue:     q,
	}
}

func (env *testEnv) newThread(t *testing.T) string {
	t.Helper()
	th, err := env.threads.Create(context.Background(), "owner-1", "orchestrator", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return th.ThreadID
}

// drain processes claimable jobs until the queue is empty, waiting out
// backoff delays.
func (env *testEnv) drain(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		did, err := env.queue.ProcessOne(context.Background())
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if did {
			continue
		}
		stats, err := env.queue.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Waiting == 0 && stats.Active == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("queue did not drain")
}

func TestThrottleSameSubject(t *testing.T) {
	env := newTestEnv(t)
	threadID := env.newThread(t)

	req := EnqueueRequest{
		SubjectID:   "subject-1",
		TriggeredBy: "api",
		Kind:        KindOrchestrate,
		Payload:     Payload{ThreadID: threadID, OwnerID: "owner-1", Text: "fix the bug"},
	}
	if _, err := env.queue.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := env.queue.Enqueue(context.Background(), req); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	req.SubjectID = "subject-2"
	if _, err := env.queue.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("distinct subject should pass: %v", err)
	}
}

func TestProcessOrchestrateJob(t *testing.T) {
	env := newTestEnv(t)
	threadID := env.newThread(t)
	env.provider.Respond("fix the deploy", "deploy fixed")

	jobID, err := env.queue.Enqueue(context.Background(), EnqueueRequest{
		SubjectID: threadID,
		Kind:      KindOrchestrate,
		Payload:   Payload{ThreadID: threadID, OwnerID: "owner-1", Text: "fix the deploy"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.drain(t)

	j, err := env.queue.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != store.JobCompleted {
		t.Fatalf("expected completed job, got %s (%s)", j.Status, j.LastError)
	}
	cp, err := env.saver.Latest(context.Background(), threadID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if cp.State.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed graph, got %s", cp.State.Status)
	}
}

func TestPriorityOrdering(t *testing.T) {
	env := newTestEnv(t)
	lowThread := env.newThread(t)
	highThread := env.newThread(t)

	if _, err := env.queue.Enqueue(context.Background(), EnqueueRequest{
		SubjectID: lowThread,
		Kind:      KindOrchestrate,
		Payload:   Payload{ThreadID: lowThread, OwnerID: "owner-1", Text: "fix the deploy"},
	}); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	highID, err := env.queue.EnqueueHighPriority(context.Background(), EnqueueRequest{
		SubjectID: highThread,
		Kind:      KindOrchestrate,
		Payload:   Payload{ThreadID: highThread, OwnerID: "owner-1", Text: "fix the deploy"},
	})
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	if _, err := env.queue.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	j, _ := env.queue.Job(context.Background(), highID)
	if j.Status != store.JobCompleted {
		t.Fatalf("high priority job should run first, got %s", j.Status)
	}
}

func TestRetryWithBackoffThenPark(t *testing.T) {
	env := newTestEnv(t)
	threadID := env.newThread(t)
	env.provider.FailWith(&provider.Error{Kind: provider.ErrKindRateLimited, Message: "slow down"})

	jobID, err := env.queue.Enqueue(context.Background(), EnqueueRequest{
		SubjectID: threadID,
		Kind:      KindOrchestrate,
		Payload:   Payload{ThreadID: threadID, OwnerID: "owner-1", Text: "fix the deploy"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.drain(t)

	j, _ := env.queue.Job(context.Background(), jobID)
	if j.Status != store.JobFailed {
		t.Fatalf("expected parked job, got %s", j.Status)
	}
	if j.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", j.Attempts)
	}
	stats, _ := env.queue.Stats(context.Background())
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed in stats, got %+v", stats)
	}

	// Parked jobs stay until an operator retries them explicitly.
	env.provider.FailWith(nil)
	n, err := env.queue.RetryAllFailed(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("retry failed: n=%d err=%v", n, err)
	}
	env.drain(t)
	j, _ = env.queue.Job(context.Background(), jobID)
	if j.Status != store.JobCompleted {
		t.Fatalf("expected completed after manual retry, got %s (%s)", j.Status, j.LastError)
	}
}

func TestApprovalResumePipeline(t *testing.T) {
	env := newTestEnv(t)
	threadID := env.newThread(t)

	jobID, err := env.queue.Enqueue(context.Background(), EnqueueRequest{
		SubjectID: threadID,
		Kind:      KindWorkflow,
		Payload:   Payload{ThreadID: threadID, OwnerID: "owner-1", ActionType: "create-pr", ActionPayload: map[string]any{"repo": "orchard"}},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.drain(t)

	// The run suspended on approval; its job is done and the slot released.
	j, _ := env.queue.Job(context.Background(), jobID)
	if j.Status != store.JobCompleted {
		t.Fatalf("suspended run should complete its job, got %s", j.Status)
	}
	if len(env.executor.Calls()) != 0 {
		t.Fatalf("executor must not run before approval")
	}

	pending, err := env.approvals.Pending(context.Background())
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %d (%v)", len(pending), err)
	}
	if _, err := env.approvals.Resolve(context.Background(), pending[0].ApprovalID, "approve", "reviewer", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	env.drain(t)

	if calls := env.executor.Calls(); len(calls) != 1 || calls[0].ActionType != "create-pr" {
		t.Fatalf("expected create-pr execution after approval, got %+v", calls)
	}
	cp, _ := env.saver.Latest(context.Background(), threadID)
	if cp.State.Status != checkpoint.StatusCompleted {
		t.Fatalf("expected completed graph, got %s (%s)", cp.State.Status, cp.State.FailedFor)
	}
}

func TestReapStaleActive(t *testing.T) {
	env := newTestEnv(t)
	threadID := env.newThread(t)

	jobID, err := env.queue.Enqueue(context.Background(), EnqueueRequest{
		SubjectID: threadID,
		Kind:      KindOrchestrate,
		Payload:   Payload{ThreadID: threadID, OwnerID: "owner-1", Text: "fix the deploy"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Simulate a worker that claimed the job and died an hour ago.
	if _, err := env.store.ClaimNextJob(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.store.DB().Exec(
		`UPDATE orchestration_jobs SET started_at = ? WHERE job_id = ?`,
		time.Now().UTC().Add(-time.Hour), jobID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := env.queue.ReapStale(context.Background())
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped job, got %d", n)
	}
	j, _ := env.queue.Job(context.Background(), jobID)
	if j.Status != store.JobQueued {
		t.Fatalf("reaped job with budget left should requeue, got %s", j.Status)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	c := DefaultRetryConfig()
	for attempt, want := range map[int]time.Duration{1: 5 * time.Second, 2: 10 * time.Second, 3: 20 * time.Second} {
		for i := 0; i < 20; i++ {
			d := c.Delay(attempt)
			lo := time.Duration(float64(want) * 0.9)
			hi := time.Duration(float64(want) * 1.1)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
	// Growth is capped.
	if d := c.Delay(100); d > time.Duration(float64(c.MaxDelay)) {
		t.Fatalf("delay must cap at %v, got %v", c.MaxDelay, d)
	}
}

// competingWriterProvider advances the thread version during the completion
// call, so the engine's post-stage save hits a stale lease.
type competingWriterProvider struct {
	st       *store.Store
	threadID string
}

func (p *competingWriterProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error) {
	if _, err := p.st.DB().ExecContext(ctx, `UPDATE threads SET version = version + 1 WHERE thread_id = ?`, p.threadID); err != nil {
		return nil, err
	}
	return &provider.Completion{Text: "done"}, nil
}

func (p *competingWriterProvider) Stream(ctx context.Context, req *provider.Request, fn func(provider.Chunk)) (*provider.Completion, error) {
	return p.Complete(ctx, req)
}

func TestStaleLeaseParksJobWithoutRetry(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "orchard.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	saver := checkpoint.NewSaver(st)
	threads := thread.NewManager(st)
	th, err := threads.Create(context.Background(), "owner-1", "orchestrator", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	prov := &competingWriterProvider{st: st, threadID: th.ThreadID}
	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Saver:    saver,
		Threads:  threads,
		Provider: prov,
		Registry: tools.NewRegistry().WithDefaults(),
		Usage:    usage.Discard{},
	})
	q := New(Config{
		Store:        st,
		Saver:        saver,
		Orchestrator: orch,
		Retry:        RetryConfig{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3},
		JobTimeout:   time.Minute,
	})

	jobID, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubjectID:   th.ThreadID,
		TriggeredBy: "api",
		Kind:        KindOrchestrate,
		Payload:     Payload{ThreadID: th.ThreadID, OwnerID: "owner-1", Text: "fix the deploy"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	j, err := q.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != store.JobFailed {
		t.Fatalf("stale lease must park the job immediately, got status %s", j.Status)
	}
	if j.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", j.Attempts)
	}
	if !strings.Contains(j.LastError, "stale thread lease") {
		t.Fatalf("last error should record the conflict, got %q", j.LastError)
	}
}

func TestMalformedPayloadParksJobWithoutRetry(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	job := &store.Job{
		JobID:       "job-bad",
		SubjectID:   "subject-bad",
		TriggeredBy: "api",
		JobType:     KindOrchestrate,
		Status:      store.JobQueued,
		Payload:     "{not json",
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := env.store.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if _, err := env.queue.ProcessOne(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	j, err := env.queue.Job(context.Background(), "job-bad")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != store.JobFailed {
		t.Fatalf("undecodable payload must park the job, got status %s", j.Status)
	}
	if j.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", j.Attempts)
	}
}
