// Package store provides sqlite persistence for threads, checkpoints,
// memories, approvals, orchestration jobs, and execution logs. It is the only
// shared mutable state in the system; every mutation goes through its methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a stale lease version on a thread.
	ErrConflict = errors.New("conflict: stale thread lease")
	// ErrAlreadyResolved indicates an approval is in a terminal status.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral store in tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// Serialized access keeps the single writer happy under worker concurrency.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read-side helpers (vector search).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// InsertThread persists a new thread.
func (s *Store) InsertThread(ctx context.Context, t *Thread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, owner_id, agent_kind, title, status, message_count, version, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.OwnerID, t.AgentKind, t.Title, t.Status, t.MessageCount, t.Version, t.CreatedAt, t.LastActivityAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread loads a thread by ID.
func (s *Store) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, owner_id, agent_kind, title, status, message_count, version, created_at, last_activity_at
		FROM threads WHERE thread_id = ?`, threadID)
	var t Thread
	err := row.Scan(&t.ThreadID, &t.OwnerID, &t.AgentKind, &t.Title, &t.Status, &t.MessageCount, &t.Version, &t.CreatedAt, &t.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns threads for an owner, most recently active first.
func (s *Store) ListThreads(ctx context.Context, ownerID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, owner_id, agent_kind, title, status, message_count, version, created_at, last_activity_at
		FROM threads WHERE owner_id = ? ORDER BY last_activity_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ThreadID, &t.OwnerID, &t.AgentKind, &t.Title, &t.Status, &t.MessageCount, &t.Version, &t.CreatedAt, &t.LastActivityAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TouchThread bumps message count and activity timestamp.
func (s *Store) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET message_count = message_count + 1, last_activity_at = ? WHERE thread_id = ?`,
		at, threadID)
	return err
}

// ArchiveInactive marks active threads idle since before cutoff as archived.
func (s *Store) ArchiveInactive(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE threads SET status = ? WHERE status = ? AND last_activity_at < ?`,
		ThreadArchived, ThreadActive, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive threads: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteThread removes a thread; checkpoints cascade.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
	return err
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

// SaveCheckpoint appends a checkpoint for the thread, atomically advancing the
// thread's lease version. expectedVersion must match the version the caller
// acquired; when it does not, nothing is written and ErrConflict is returned.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE threads SET version = version + 1, last_activity_at = ?
		WHERE thread_id = ? AND version = ?`,
		cp.WrittenAt, cp.ThreadID, expectedVersion)
	if err != nil {
		return fmt.Errorf("bump thread version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the thread is gone or someone else advanced it.
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM threads WHERE thread_id = ?`, cp.ThreadID).Scan(&exists); err == nil && exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, thread_id, parent_checkpoint_id, state, written_at)
		VALUES (?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.ThreadID, nullable(cp.ParentCheckpointID), cp.State, cp.WrittenAt); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return tx.Commit()
}

// LatestCheckpoint returns the newest checkpoint for a thread.
func (s *Store) LatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkpoint_id, thread_id, COALESCE(parent_checkpoint_id, ''), state, written_at
		FROM checkpoints WHERE thread_id = ? ORDER BY id DESC LIMIT 1`, threadID)
	return scanCheckpoint(row)
}

// CheckpointHistory returns checkpoints for a thread, most recent first.
func (s *Store) CheckpointHistory(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkpoint_id, thread_id, COALESCE(parent_checkpoint_id, ''), state, written_at
		FROM checkpoints WHERE thread_id = ? ORDER BY id DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("checkpoint history: %w", err)
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.ID, &cp.CheckpointID, &cp.ThreadID, &cp.ParentCheckpointID, &cp.State, &cp.WrittenAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetCheckpoint loads a checkpoint by its checkpoint_id.
func (s *Store) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkpoint_id, thread_id, COALESCE(parent_checkpoint_id, ''), state, written_at
		FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	return scanCheckpoint(row)
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(&cp.ID, &cp.CheckpointID, &cp.ThreadID, &cp.ParentCheckpointID, &cp.State, &cp.WrittenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Memories
// ---------------------------------------------------------------------------

// InsertMemory persists a memory row.
func (s *Store) InsertMemory(ctx context.Context, m *Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, thread_id, owner_id, type, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, nullable(m.ThreadID), m.OwnerID, m.Type, m.Content, m.Embedding, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ListMemories returns memories for an owner, newest first.
func (s *Store) ListMemories(ctx context.Context, ownerID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(thread_id, ''), owner_id, type, content, embedding, created_at
		FROM memories WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.OwnerID, &m.Type, &m.Content, &m.Embedding, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory immediately. Missing rows are not an error.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

// InsertApproval persists a new pending approval.
func (s *Store) InsertApproval(ctx context.Context, a *Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, thread_id, checkpoint_id, action_type, payload, risk_level, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ApprovalID, a.ThreadID, nullable(a.CheckpointID), a.ActionType, a.Payload, a.RiskLevel, a.Status, a.RequestedAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// GetApproval loads an approval by ID.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, thread_id, COALESCE(checkpoint_id, ''), action_type, payload, risk_level, status, reason, requested_at, resolved_at, resolved_by
		FROM approvals WHERE approval_id = ?`, approvalID)
	return scanApproval(row)
}

func scanApproval(row *sql.Row) (*Approval, error) {
	var a Approval
	err := row.Scan(&a.ApprovalID, &a.ThreadID, &a.CheckpointID, &a.ActionType, &a.Payload, &a.RiskLevel, &a.Status, &a.Reason, &a.RequestedAt, &a.ResolvedAt, &a.ResolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	return &a, nil
}

// ResolveApproval moves a pending approval into a terminal status. The guard
// on status makes terminal states immutable: a second resolve, or a resolve
// racing the expiry sweep, returns ErrAlreadyResolved.
func (s *Store) ResolveApproval(ctx context.Context, approvalID, status, resolvedBy, reason string, at time.Time) (*Approval, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, resolved_by = ?, reason = ?, resolved_at = ?
		WHERE approval_id = ? AND status = ?`,
		status, resolvedBy, reason, at, approvalID, ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetApproval(ctx, approvalID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}
	return s.GetApproval(ctx, approvalID)
}

// PendingApprovals returns approvals awaiting review, oldest first.
func (s *Store) PendingApprovals(ctx context.Context) ([]Approval, error) {
	return s.approvalsByStatus(ctx, ApprovalPending)
}

// PendingApprovalsBefore returns pending approvals requested before cutoff.
func (s *Store) PendingApprovalsBefore(ctx context.Context, cutoff time.Time) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id, thread_id, COALESCE(checkpoint_id, ''), action_type, payload, risk_level, status, reason, requested_at, resolved_at, resolved_by
		FROM approvals WHERE status = ? AND requested_at < ? ORDER BY requested_at`, ApprovalPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("pending approvals before: %w", err)
	}
	return collectApprovals(rows)
}

func (s *Store) approvalsByStatus(ctx context.Context, status string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id, thread_id, COALESCE(checkpoint_id, ''), action_type, payload, risk_level, status, reason, requested_at, resolved_at, resolved_by
		FROM approvals WHERE status = ? ORDER BY requested_at`, status)
	if err != nil {
		return nil, fmt.Errorf("approvals by status: %w", err)
	}
	return collectApprovals(rows)
}

func collectApprovals(rows *sql.Rows) ([]Approval, error) {
	defer rows.Close()
	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ApprovalID, &a.ThreadID, &a.CheckpointID, &a.ActionType, &a.Payload, &a.RiskLevel, &a.Status, &a.Reason, &a.RequestedAt, &a.ResolvedAt, &a.ResolvedBy); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Orchestration jobs
// ---------------------------------------------------------------------------

// InsertJob persists a queued job.
func (s *Store) InsertJob(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestration_jobs (job_id, subject_id, triggered_by, job_type, priority, status, payload, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.SubjectID, j.TriggeredBy, j.JobType, j.Priority, j.Status, j.Payload, j.Attempts, j.MaxAttempts, j.RunAt, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, subject_id, triggered_by, job_type, priority, status, payload, attempts, max_attempts, last_error, run_at, started_at, completed_at, duration_ms, created_at, updated_at
		FROM orchestration_jobs WHERE job_id = ?`, jobID)
	var j Job
	err := row.Scan(&j.JobID, &j.SubjectID, &j.TriggeredBy, &j.JobType, &j.Priority, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.DurationMs, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// RecentJobForSubject reports whether a non-failed job exists for the subject
// since the cutoff. Used for per-subject throttling.
func (s *Store) RecentJobForSubject(ctx context.Context, subjectID string, cutoff time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM orchestration_jobs
		WHERE subject_id = ? AND created_at >= ? AND status IN (?, ?, ?)`,
		subjectID, cutoff, JobQueued, JobActive, JobCompleted).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("recent job for subject: %w", err)
	}
	return n > 0, nil
}

// ClaimNextJob atomically claims the highest-priority due job, moving it to
// active. Returns ErrNotFound when nothing is due.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT job_id FROM orchestration_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY priority DESC, run_at, created_at LIMIT 1`, JobQueued, now)
	var jobID string
	if err := row.Scan(&jobID); errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestration_jobs
		SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE job_id = ?`, JobActive, now, now, jobID); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// CompleteJob marks an active job completed.
func (s *Store) CompleteJob(ctx context.Context, jobID string, durationMs int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_jobs SET status = ?, completed_at = ?, duration_ms = ?, updated_at = ? WHERE job_id = ?`,
		JobCompleted, at, durationMs, at, jobID)
	return err
}

// RequeueJob schedules a failed attempt for retry at runAt.
func (s *Store) RequeueJob(ctx context.Context, jobID, lastError string, runAt, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_jobs SET status = ?, last_error = ?, run_at = ?, updated_at = ? WHERE job_id = ?`,
		JobQueued, lastError, runAt, at, jobID)
	return err
}

// FailJob parks a job as failed after its attempts are exhausted.
func (s *Store) FailJob(ctx context.Context, jobID, lastError string, durationMs int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_jobs SET status = ?, last_error = ?, completed_at = ?, duration_ms = ?, updated_at = ? WHERE job_id = ?`,
		JobFailed, lastError, at, durationMs, at, jobID)
	return err
}

// RetryAllFailed requeues every parked job with a fresh attempt budget.
func (s *Store) RetryAllFailed(ctx context.Context, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_jobs SET status = ?, attempts = 0, last_error = '', run_at = ?, updated_at = ? WHERE status = ?`,
		JobQueued, at, at, JobFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReapStaleActive force-fails active jobs started before cutoff; the caller
// decides whether their attempt budgets allow a requeue.
func (s *Store) ReapStaleActive(ctx context.Context, cutoff, at time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id FROM orchestration_jobs WHERE status = ? AND started_at < ?`, JobActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stale jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var reaped []Job
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE orchestration_jobs SET status = ?, last_error = 'job timeout', updated_at = ? WHERE job_id = ? AND status = ?`,
			JobQueued, at, id, JobActive); err != nil {
			return reaped, err
		}
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return reaped, err
		}
		reaped = append(reaped, *j)
	}
	return reaped, nil
}

// Stats returns queue counters.
func (s *Store) Stats(ctx context.Context) (*JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM orchestration_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	st := &JobStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case JobQueued:
			st.Waiting = n
		case JobActive:
			st.Active = n
		case JobCompleted:
			st.Completed = n
		case JobFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

// ---------------------------------------------------------------------------
// Execution logs
// ---------------------------------------------------------------------------

// InsertExecutionLog appends an audit row.
func (s *Store) InsertExecutionLog(ctx context.Context, l *ExecutionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (thread_id, job_id, action_type, stage, status, detail, prompt_tokens, completion_tokens, total_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(l.ThreadID), nullable(l.JobID), l.ActionType, l.Stage, l.Status, l.Detail,
		l.PromptTokens, l.CompletionTokens, l.TotalTokens, l.DurationMs, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// ExecutionLogsForThread returns audit rows for a thread, newest first.
func (s *Store) ExecutionLogsForThread(ctx context.Context, threadID string, limit int) ([]ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(thread_id, ''), COALESCE(job_id, ''), action_type, stage, status, detail, prompt_tokens, completion_tokens, total_tokens, duration_ms, created_at
		FROM execution_logs WHERE thread_id = ? ORDER BY id DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("execution logs: %w", err)
	}
	defer rows.Close()
	var out []ExecutionLog
	for rows.Next() {
		var l ExecutionLog
		if err := rows.Scan(&l.ID, &l.ThreadID, &l.JobID, &l.ActionType, &l.Stage, &l.Status, &l.Detail, &l.PromptTokens, &l.CompletionTokens, &l.TotalTokens, &l.DurationMs, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
