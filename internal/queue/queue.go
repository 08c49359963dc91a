// Package queue is the durable orchestration queue. Jobs live in the shared
// sqlite store, so any worker process connected to the same database can
// claim them; distribution needs no coordination beyond the store's atomic
// claim. Per-subject throttling rejects duplicate work inside a window, retry
// uses capped exponential backoff, and jobs that exhaust their attempts park
// as failed until an operator retries them explicitly.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/graph"
	"github.com/orchard-run/orchard/internal/orchestrator"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/workflow"
)

// ErrThrottled rejects a job whose subject already has recent work queued.
// Callers must observe this distinctly from success.
var ErrThrottled = errors.New("subject throttled")

// Job kinds.
const (
	KindOrchestrate = "orchestrate"
	KindWorkflow    = "workflow"
	KindResume      = "resume"
)

// HighPriority is the priority assigned to operator and resume jobs.
const HighPriority = 10

// Defaults.
const (
	DefaultThrottleWindow = 5 * time.Minute
	DefaultJobTimeout     = 10 * time.Minute
	DefaultWorkers        = 3
	DefaultPollInterval   = 500 * time.Millisecond
)

// Payload is the job body stored alongside a queue row.
type Payload struct {
	ThreadID      string         `json:"thread_id"`
	OwnerID       string         `json:"owner_id,omitempty"`
	Text          string         `json:"text,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	ActionType    string         `json:"action_type,omitempty"`
	ActionPayload map[string]any `json:"action_payload,omitempty"`
}

// EnqueueRequest describes a job to queue.
type EnqueueRequest struct {
	// SubjectID groups jobs for throttling; usually the thread ID.
	SubjectID   string
	TriggeredBy string // cron, webhook, manual, api, system
	Kind        string
	Payload     Payload
	Priority    int
}

// Config wires the queue's collaborators.
type Config struct {
	Store          *store.Store
	Saver          *checkpoint.Saver
	Orchestrator   *orchestrator.Orchestrator
	Workflow       *workflow.Workflow
	Retry          RetryConfig
	ThrottleWindow time.Duration
	JobTimeout     time.Duration
	Workers        int
	PollInterval   time.Duration
}

// Queue claims and drives jobs against the graph engines.
type Queue struct {
	store    *store.Store
	saver    *checkpoint.Saver
	orch     *orchestrator.Orchestrator
	wf       *workflow.Workflow
	retry    RetryConfig
	throttle time.Duration
	timeout  time.Duration
	workers  int
	poll     time.Duration
	wake     chan struct{}
}

// New creates a queue. Zero config fields fall back to defaults.
func New(cfg Config) *Queue {
	q := &Queue{
		store:    cfg.Store,
		saver:    cfg.Saver,
		orch:     cfg.Orchestrator,
		wf:       cfg.Workflow,
		retry:    cfg.Retry,
		throttle: cfg.ThrottleWindow,
		timeout:  cfg.JobTimeout,
		workers:  cfg.Workers,
		poll:     cfg.PollInterval,
		wake:     make(chan struct{}, 1),
	}
	if q.retry == (RetryConfig{}) {
		q.retry = DefaultRetryConfig()
	}
	if q.throttle <= 0 {
		q.throttle = DefaultThrottleWindow
	}
	if q.timeout <= 0 {
		q.timeout = DefaultJobTimeout
	}
	if q.workers <= 0 {
		q.workers = DefaultWorkers
	}
	if q.poll <= 0 {
		q.poll = DefaultPollInterval
	}
	return q
}

// Enqueue queues a job. A second job for the same subject inside the throttle
// window is rejected with ErrThrottled; resume jobs are exempt since they
// continue work the window already admitted.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Kind != KindResume && req.SubjectID != "" {
		recent, err := q.store.RecentJobForSubject(ctx, req.SubjectID, time.Now().UTC().Add(-q.throttle))
		if err != nil {
			return "", err
		}
		if recent {
			return "", fmt.Errorf("%w: %s", ErrThrottled, req.SubjectID)
		}
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	now := time.Now().UTC()
	j := &store.Job{
		JobID:       uuid.NewString(),
		SubjectID:   req.SubjectID,
		TriggeredBy: req.TriggeredBy,
		JobType:     req.Kind,
		Priority:    req.Priority,
		Status:      store.JobQueued,
		Payload:     string(body),
		MaxAttempts: q.retry.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.InsertJob(ctx, j); err != nil {
		return "", err
	}
	slog.Info("job enqueued", "job_id", j.JobID, "kind", j.JobType, "subject_id", j.SubjectID, "priority", j.Priority)
	q.nudge()
	return j.JobID, nil
}

// EnqueueHighPriority queues a job ahead of normal work.
func (q *Queue) EnqueueHighPriority(ctx context.Context, req EnqueueRequest) (string, error) {
	req.Priority = HighPriority
	return q.Enqueue(ctx, req)
}

// ResumeApproved re-enqueues the graph execution an approval was blocking.
// Implements the approval manager's resumer contract.
func (q *Queue) ResumeApproved(ctx context.Context, a *store.Approval) error {
	_, err := q.EnqueueHighPriority(ctx, EnqueueRequest{
		SubjectID:   a.ThreadID,
		TriggeredBy: "system",
		Kind:        KindResume,
		Payload:     Payload{ThreadID: a.ThreadID},
	})
	return err
}

// RetryAllFailed requeues every parked job with a fresh attempt budget.
func (q *Queue) RetryAllFailed(ctx context.Context) (int, error) {
	n, err := q.store.RetryAllFailed(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("failed jobs requeued", "count", n)
		q.nudge()
	}
	return n, nil
}

// Stats returns queue counters.
func (q *Queue) Stats(ctx context.Context) (*store.JobStats, error) {
	return q.store.Stats(ctx)
}

// Job returns one job row.
func (q *Queue) Job(ctx context.Context, jobID string) (*store.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// ReapStale force-requeues jobs active past the wall-clock timeout, parking
// those whose attempt budget is spent. Crashed workers leave jobs active; the
// reaper keeps them from staying that way indefinitely.
func (q *Queue) ReapStale(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	reaped, err := q.store.ReapStaleActive(ctx, now.Add(-q.timeout), now)
	if err != nil {
		return 0, err
	}
	for i := range reaped {
		j := &reaped[i]
		if j.Attempts >= j.MaxAttempts {
			if err := q.store.FailJob(ctx, j.JobID, "job timeout", 0, now); err != nil {
				return i, err
			}
			slog.Warn("stale job parked", "job_id", j.JobID, "attempts", j.Attempts)
		} else {
			slog.Warn("stale job requeued", "job_id", j.JobID, "attempts", j.Attempts)
		}
	}
	if len(reaped) > 0 {
		q.nudge()
	}
	return len(reaped), nil
}

// Run claims and processes jobs until ctx is cancelled. Concurrency is
// bounded by the worker pool; claims are serialized through the store so
// multiple processes can run against one database.
func (q *Queue) Run(ctx context.Context) error {
	slog.Info("queue worker started", "workers", q.workers, "poll", q.poll)
	sem := make(chan struct{}, q.workers)
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	reap := time.NewTicker(time.Minute)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			// Let in-flight jobs finish.
			for i := 0; i < q.workers; i++ {
				sem <- struct{}{}
			}
			return ctx.Err()
		case <-reap.C:
			if _, err := q.ReapStale(ctx); err != nil {
				slog.Error("reap stale jobs", "error", err)
			}
		case <-ticker.C:
		case <-q.wake:
		}

	claim:
		for ctx.Err() == nil {
			select {
			case sem <- struct{}{}:
			default:
				break claim // pool full, wait for a tick
			}
			j, err := q.store.ClaimNextJob(ctx, time.Now().UTC())
			if errors.Is(err, store.ErrNotFound) {
				<-sem
				break claim
			}
			if err != nil {
				<-sem
				slog.Error("claim job", "error", err)
				break claim
			}
			go func() {
				defer func() { <-sem }()
				q.process(ctx, j)
			}()
		}
	}
}

// ProcessOne claims and processes a single job synchronously. Returns false
// when nothing is claimable.
func (q *Queue) ProcessOne(ctx context.Context) (bool, error) {
	j, err := q.store.ClaimNextJob(ctx, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.process(ctx, j)
	return true, nil
}

func (q *Queue) process(ctx context.Context, j *store.Job) {
	started := time.Now()
	jctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	res, err := q.dispatch(jctx, j)
	elapsed := time.Since(started)
	now := time.Now().UTC()

	if err != nil {
		// Structural failures park immediately: a stale lease means another
		// writer owns the thread now, and a malformed job stays malformed no
		// matter how often it is retried.
		if structural(err) {
			slog.Error("job failed structurally", "job_id", j.JobID, "kind", j.JobType, "error", err)
			if ferr := q.store.FailJob(ctx, j.JobID, err.Error(), elapsed.Milliseconds(), now); ferr != nil {
				slog.Error("park job", "job_id", j.JobID, "error", ferr)
			}
			return
		}
		// Whole-job failure: retry from the last checkpoint with backoff,
		// park once the budget is spent.
		if j.Attempts >= j.MaxAttempts {
			slog.Error("job failed permanently", "job_id", j.JobID, "kind", j.JobType, "attempts", j.Attempts, "error", err)
			if ferr := q.store.FailJob(ctx, j.JobID, err.Error(), elapsed.Milliseconds(), now); ferr != nil {
				slog.Error("park job", "job_id", j.JobID, "error", ferr)
			}
			return
		}
		delay := q.retry.Delay(j.Attempts)
		slog.Warn("job attempt failed", "job_id", j.JobID, "kind", j.JobType, "attempt", j.Attempts, "retry_in", delay, "error", err)
		if rerr := q.store.RequeueJob(ctx, j.JobID, err.Error(), now.Add(delay), now); rerr != nil {
			slog.Error("requeue job", "job_id", j.JobID, "error", rerr)
		}
		return
	}

	// Any graph outcome, including interrupted and failed, completes the job:
	// suspended work resumes as a fresh job and terminal graph failures are
	// not retryable by rerunning.
	if err := q.store.CompleteJob(ctx, j.JobID, elapsed.Milliseconds(), now); err != nil {
		slog.Error("complete job", "job_id", j.JobID, "error", err)
		return
	}
	slog.Info("job done", "job_id", j.JobID, "kind", j.JobType, "graph_status", res.Status, "duration", elapsed)
}

// errMalformedJob marks jobs that can never dispatch successfully.
var errMalformedJob = errors.New("malformed job")

// structural reports whether a dispatch error is permanent rather than
// transient. Conflicts and malformed jobs are surfaced as failed immediately,
// never retried.
func structural(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, errMalformedJob)
}

func (q *Queue) dispatch(ctx context.Context, j *store.Job) (*graph.Result, error) {
	var p Payload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", errMalformedJob, err)
	}
	// Retried attempts resume from the thread's last checkpoint instead of
	// restarting; in-flight external calls from the failed attempt are
	// treated as failed, never assumed to have succeeded.
	if j.Attempts > 1 {
		res, err := q.resume(ctx, p.ThreadID)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return res, err
		}
	}
	switch j.JobType {
	case KindOrchestrate:
		return q.orch.Handle(ctx, p.ThreadID, p.OwnerID, p.Text, p.Priority)
	case KindWorkflow:
		return q.wf.Execute(ctx, workflow.Request{
			ThreadID:   p.ThreadID,
			OwnerID:    p.OwnerID,
			ActionType: p.ActionType,
			Payload:    p.ActionPayload,
			JobID:      j.JobID,
		})
	case KindResume:
		return q.resume(ctx, p.ThreadID)
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", errMalformedJob, j.JobType)
	}
}

// resume routes a thread back into whichever graph its latest checkpoint
// belongs to.
func (q *Queue) resume(ctx context.Context, threadID string) (*graph.Result, error) {
	cp, err := q.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	switch cp.State.Graph {
	case orchestrator.GraphName:
		return q.orch.Resume(ctx, threadID)
	case workflow.GraphName:
		return q.wf.Resume(ctx, threadID)
	default:
		return nil, fmt.Errorf("%w: unknown graph %q on thread %s", errMalformedJob, cp.State.Graph, threadID)
	}
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
