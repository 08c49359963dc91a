package store

import (
	"time"
)

// Thread is a resumable conversation/execution context.
type Thread struct {
	ThreadID       string    `json:"thread_id"`
	OwnerID        string    `json:"owner_id"`
	AgentKind      string    `json:"agent_kind"`
	Title          string    `json:"title"`
	Status         string    `json:"status"` // active, archived
	MessageCount   int       `json:"message_count"`
	Version        int64     `json:"version"` // optimistic lease token
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

const (
	ThreadActive   = "active"
	ThreadArchived = "archived"
)

// Checkpoint is an append-only snapshot of graph execution state.
// ParentCheckpointID links checkpoints into a chain per thread; the current
// checkpoint is always the newest row.
type Checkpoint struct {
	ID                 int64     `json:"id"`
	CheckpointID       string    `json:"checkpoint_id"`
	ThreadID           string    `json:"thread_id"`
	ParentCheckpointID string    `json:"parent_checkpoint_id,omitempty"`
	State              string    `json:"state"` // JSON graph state payload
	WrittenAt          time.Time `json:"written_at"`
}

// Memory is an extracted durable fact tied to a thread/owner.
type Memory struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id,omitempty"` // empty: outlives any thread
	OwnerID   string    `json:"owner_id"`
	Type      string    `json:"type"` // decision, preference, fact, action, insight
	Content   string    `json:"content"`
	Embedding []byte    `json:"-"` // little-endian float32 blob
	CreatedAt time.Time `json:"created_at"`
}

// Approval is a pending or resolved human-in-the-loop gate.
type Approval struct {
	ApprovalID   string     `json:"approval_id"`
	ThreadID     string     `json:"thread_id"`
	CheckpointID string     `json:"checkpoint_id,omitempty"` // the suspended interrupt checkpoint
	ActionType   string     `json:"action_type"`
	Payload      string     `json:"payload"` // opaque JSON
	RiskLevel    string     `json:"risk_level"`
	Status       string     `json:"status"` // pending, approved, rejected, expired
	Reason       string     `json:"reason,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
}

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

// Job is a queued unit of orchestration work.
type Job struct {
	JobID       string     `json:"job_id"`
	SubjectID   string     `json:"subject_id"`
	TriggeredBy string     `json:"triggered_by"` // cron, webhook, manual, api, system
	JobType     string     `json:"job_type"`     // orchestrate, workflow, resume
	Priority    int        `json:"priority"`
	Status      string     `json:"status"` // queued, active, completed, failed
	Payload     string     `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const (
	JobQueued    = "queued"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStats holds queue counters by status.
type JobStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ExecutionLog is an audit row written by the workflow logResult stage and by
// graph completions. It carries the usage accounting consumed by billing.
type ExecutionLog struct {
	ID               int64     `json:"id"`
	ThreadID         string    `json:"thread_id,omitempty"`
	JobID            string    `json:"job_id,omitempty"`
	ActionType       string    `json:"action_type,omitempty"`
	Stage            string    `json:"stage"`
	Status           string    `json:"status"`
	Detail           string    `json:"detail,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	agent_kind TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	message_count INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_activity_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_id);
CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status, last_activity_at);

CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	checkpoint_id TEXT UNIQUE NOT NULL,
	thread_id TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
	parent_checkpoint_id TEXT,
	state TEXT NOT NULL,
	written_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, id);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	thread_id TEXT,
	owner_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id);
CREATE INDEX IF NOT EXISTS idx_memories_thread ON memories(thread_id);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	checkpoint_id TEXT,
	action_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	risk_level TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	reason TEXT NOT NULL DEFAULT '',
	requested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME,
	resolved_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, requested_at);
CREATE INDEX IF NOT EXISTS idx_approvals_thread ON approvals(thread_id);

CREATE TABLE IF NOT EXISTS orchestration_jobs (
	job_id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	triggered_by TEXT NOT NULL DEFAULT 'api',
	job_type TEXT NOT NULL DEFAULT 'single_agent',
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'queued',
	payload TEXT NOT NULL DEFAULT '{}',
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 5,
	last_error TEXT NOT NULL DEFAULT '',
	run_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON orchestration_jobs(status, run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_subject ON orchestration_jobs(subject_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON orchestration_jobs(status, priority, run_at);

CREATE TABLE IF NOT EXISTS execution_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id TEXT,
	job_id TEXT,
	action_type TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exec_logs_thread ON execution_logs(thread_id);
CREATE INDEX IF NOT EXISTS idx_exec_logs_job ON execution_logs(job_id);
`
