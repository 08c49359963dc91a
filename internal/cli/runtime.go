package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/orchard-run/orchard/internal/action"
	"github.com/orchard-run/orchard/internal/approval"
	"github.com/orchard-run/orchard/internal/checkpoint"
	"github.com/orchard-run/orchard/internal/config"
	"github.com/orchard-run/orchard/internal/memory"
	"github.com/orchard-run/orchard/internal/notify"
	"github.com/orchard-run/orchard/internal/orchestrator"
	"github.com/orchard-run/orchard/internal/policy"
	"github.com/orchard-run/orchard/internal/provider"
	"github.com/orchard-run/orchard/internal/queue"
	"github.com/orchard-run/orchard/internal/store"
	"github.com/orchard-run/orchard/internal/thread"
	"github.com/orchard-run/orchard/internal/tools"
	"github.com/orchard-run/orchard/internal/usage"
	"github.com/orchard-run/orchard/internal/workflow"
)

// runtime holds the wired service graph shared by serve and worker.
type runtime struct {
	cfg       *config.Config
	store     *store.Store
	saver     *checkpoint.Saver
	threads   *thread.Manager
	approvals *approval.Manager
	orch      *orchestrator.Orchestrator
	workflow  *workflow.Workflow
	queue     *queue.Queue
	memories  *memory.Service
	usage     usage.Emitter
}

func (rt *runtime) close() {
	if c, ok := rt.usage.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	_ = rt.store.Close()
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.New(cfg.Paths.DBPath)
	if err != nil {
		return nil, err
	}

	saver := checkpoint.NewSaver(st)
	threads := thread.NewManager(st)
	registry := tools.NewRegistry().WithDefaults()
	prov := providerFromConfig(cfg)
	emitter := emitterFromConfig(cfg)
	notifier := notifierFromConfig(cfg)
	pol, err := policyFromConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	var embedder provider.Embedder
	if e, ok := prov.(provider.Embedder); ok {
		embedder = e
	}
	memories := memory.NewService(st, embedder)
	approvals := approval.NewManager(st, saver, threads, notifier)

	orch := orchestrator.New(orchestrator.Config{
		Store:     st,
		Saver:     saver,
		Threads:   threads,
		Provider:  prov,
		Registry:  registry,
		Memories:  memories,
		Usage:     emitter,
		Agents:    orchestrator.DefaultAgents(),
		Threshold: cfg.Queue.ScoreThreshold,
	})
	wf := workflow.New(workflow.Config{
		Store:       st,
		Saver:       saver,
		Threads:     threads,
		Registry:    registry,
		Policy:      pol,
		Approvals:   approvals,
		Executor:    executorFromConfig(cfg),
		Usage:       emitter,
		ExecTimeout: cfg.Queue.ExecTimeout,
	})
	q := queue.New(queue.Config{
		Store:          st,
		Saver:          saver,
		Orchestrator:   orch,
		Workflow:       wf,
		Retry:          retryFromConfig(cfg),
		ThrottleWindow: cfg.Queue.ThrottleWindow,
		JobTimeout:     cfg.Queue.JobTimeout,
		Workers:        cfg.Queue.Workers,
	})
	approvals.SetResumer(q)

	return &runtime{
		cfg:       cfg,
		store:     st,
		saver:     saver,
		threads:   threads,
		approvals: approvals,
		orch:      orch,
		workflow:  wf,
		queue:     q,
		memories:  memories,
		usage:     emitter,
	}, nil
}

func providerFromConfig(cfg *config.Config) provider.CompletionProvider {
	if cfg.Provider.Scripted || cfg.Provider.APIKey == "" {
		return provider.NewScripted()
	}
	return provider.NewOpenAI(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model, cfg.Provider.MaxTokens)
}

func emitterFromConfig(cfg *config.Config) usage.Emitter {
	if len(cfg.Usage.KafkaBrokers) > 0 {
		return usage.NewKafkaEmitter(strings.Join(cfg.Usage.KafkaBrokers, ","), cfg.Usage.KafkaTopic)
	}
	return usage.LogEmitter{}
}

func notifierFromConfig(cfg *config.Config) notify.Notifier {
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		return notify.NewSlack(cfg.Notify.SlackToken, cfg.Notify.SlackChannel)
	}
	return notify.Noop{}
}

func executorFromConfig(cfg *config.Config) action.Executor {
	if cfg.Actions.WebhookURL != "" {
		return action.NewWebhook(cfg.Actions.WebhookURL)
	}
	return action.NewFake()
}

func retryFromConfig(cfg *config.Config) queue.RetryConfig {
	retry := queue.DefaultRetryConfig()
	if cfg.Queue.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.Queue.RetryBaseDelay
	}
	if cfg.Queue.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Queue.MaxAttempts
	}
	return retry
}

func policyFromConfig(cfg *config.Config) (policy.Policy, error) {
	pol := policy.Default()
	if cfg.Policy.ApprovalThreshold != "" {
		risk, err := tools.ParseRiskLevel(cfg.Policy.ApprovalThreshold)
		if err != nil {
			return pol, fmt.Errorf("policy approval threshold: %w", err)
		}
		pol.ApprovalThreshold = risk
	}
	if cfg.Policy.ApprovalTimeout > 0 {
		pol.ApprovalTimeout = cfg.Policy.ApprovalTimeout
	}
	pol.AlwaysApprove = cfg.Policy.AlwaysApprove
	return pol, nil
}
