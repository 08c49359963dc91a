// Package config provides configuration types and loading for orchard.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Server, Provider, Policy, Queue, Usage, Notify,
// Maintenance.
type Config struct {
	Paths       PathsConfig       `json:"paths"`
	Server      ServerConfig      `json:"server"`
	Provider    ProviderConfig    `json:"provider"`
	Policy      PolicyConfig      `json:"policy"`
	Queue       QueueConfig       `json:"queue"`
	Actions     ActionsConfig     `json:"actions"`
	Usage       UsageConfig       `json:"usage"`
	Notify      NotifyConfig      `json:"notify"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ServerConfig groups the HTTP API settings.
type ServerConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
	// AuthToken protects the API with bearer auth. Empty disables auth,
	// which is only sensible on a loopback bind.
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// ProviderConfig groups completion-provider settings.
type ProviderConfig struct {
	APIKey    string `json:"apiKey" envconfig:"API_KEY"`
	APIBase   string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model     string `json:"model" envconfig:"MODEL"`
	MaxTokens int    `json:"maxTokens" envconfig:"MAX_TOKENS"`
	// Scripted swaps in the deterministic provider for local development.
	Scripted bool `json:"scripted" envconfig:"SCRIPTED"`
}

// PolicyConfig groups approval policy settings.
type PolicyConfig struct {
	// ApprovalThreshold is the lowest risk level gated behind approval:
	// low, medium, or high.
	ApprovalThreshold string        `json:"approvalThreshold" envconfig:"APPROVAL_THRESHOLD"`
	AlwaysApprove     []string      `json:"alwaysApprove,omitempty"`
	ApprovalTimeout   time.Duration `json:"approvalTimeout" envconfig:"APPROVAL_TIMEOUT"`
}

// QueueConfig groups queue and worker pool settings.
type QueueConfig struct {
	Workers        int           `json:"workers" envconfig:"WORKERS"`
	ThrottleWindow time.Duration `json:"throttleWindow" envconfig:"THROTTLE_WINDOW"`
	JobTimeout     time.Duration `json:"jobTimeout" envconfig:"JOB_TIMEOUT"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay" envconfig:"RETRY_BASE_DELAY"`
	MaxAttempts    int           `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	// ExecTimeout bounds a single external action call.
	ExecTimeout time.Duration `json:"execTimeout" envconfig:"EXEC_TIMEOUT"`
	// ScoreThreshold gates agent inclusion in the planner.
	ScoreThreshold float64 `json:"scoreThreshold" envconfig:"SCORE_THRESHOLD"`
}

// ActionsConfig groups external action execution settings. Without a webhook
// URL, workflow actions run against the in-process fake executor.
type ActionsConfig struct {
	WebhookURL string `json:"webhookUrl,omitempty" envconfig:"WEBHOOK_URL"`
}

// UsageConfig groups the billing event sink settings. Without brokers, usage
// events go to the structured log.
type UsageConfig struct {
	KafkaBrokers []string `json:"kafkaBrokers,omitempty" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// NotifyConfig groups reviewer notification settings.
type NotifyConfig struct {
	SlackToken   string `json:"slackToken" envconfig:"SLACK_TOKEN"`
	SlackChannel string `json:"slackChannel" envconfig:"SLACK_CHANNEL"`
}

// MaintenanceConfig groups the background sweep settings.
type MaintenanceConfig struct {
	// ArchiveAfter is how long a thread may sit inactive before the
	// archive sweep picks it up.
	ArchiveAfter time.Duration `json:"archiveAfter" envconfig:"ARCHIVE_AFTER"`
	// SweepSchedule is the cron spec driving approval expiry, thread
	// archiving, and the stale job reaper.
	SweepSchedule string `json:"sweepSchedule" envconfig:"SWEEP_SCHEDULE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.orchard",
			DBPath:  "~/.orchard/orchard.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18990,
		},
		Provider: ProviderConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
			Scripted:  true,
		},
		Policy: PolicyConfig{
			ApprovalThreshold: "medium",
			ApprovalTimeout:   24 * time.Hour,
		},
		Queue: QueueConfig{
			Workers:        3,
			ThrottleWindow: 5 * time.Minute,
			JobTimeout:     10 * time.Minute,
			RetryBaseDelay: 5 * time.Second,
			MaxAttempts:    5,
			ExecTimeout:    60 * time.Second,
			ScoreThreshold: 0.5,
		},
		Usage: UsageConfig{
			KafkaTopic: "orchard.usage",
		},
		Maintenance: MaintenanceConfig{
			ArchiveAfter:  30 * 24 * time.Hour,
			SweepSchedule: "*/5 * * * *",
		},
	}
}
