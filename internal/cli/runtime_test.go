package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/orchard-run/orchard/internal/action"
	"github.com/orchard-run/orchard/internal/config"
	"github.com/orchard-run/orchard/internal/provider"
	"github.com/orchard-run/orchard/internal/tools"
	"github.com/orchard-run/orchard/internal/usage"
)

func TestProviderFromConfigScripted(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, ok := providerFromConfig(cfg).(*provider.Scripted); !ok {
		t.Fatalf("default config must select the scripted provider")
	}

	cfg.Provider.Scripted = false
	cfg.Provider.APIKey = "sk-test"
	if _, ok := providerFromConfig(cfg).(*provider.OpenAI); !ok {
		t.Fatalf("api key without scripted flag must select the OpenAI provider")
	}

	// No key falls back to scripted even when the flag is off.
	cfg.Provider.APIKey = ""
	if _, ok := providerFromConfig(cfg).(*provider.Scripted); !ok {
		t.Fatalf("missing api key must fall back to the scripted provider")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Policy.ApprovalThreshold = "high"
	cfg.Policy.ApprovalTimeout = 2 * time.Hour
	cfg.Policy.AlwaysApprove = []string{"send-email"}

	pol, err := policyFromConfig(cfg)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if pol.ApprovalThreshold != tools.RiskHigh {
		t.Fatalf("wrong threshold: %v", pol.ApprovalThreshold)
	}
	if pol.ApprovalTimeout != 2*time.Hour {
		t.Fatalf("wrong timeout: %v", pol.ApprovalTimeout)
	}
	if len(pol.AlwaysApprove) != 1 || pol.AlwaysApprove[0] != "send-email" {
		t.Fatalf("wrong always-approve: %v", pol.AlwaysApprove)
	}

	cfg.Policy.ApprovalThreshold = "catastrophic"
	if _, err := policyFromConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown risk level")
	}
}

func TestExecutorFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, ok := executorFromConfig(cfg).(*action.Fake); !ok {
		t.Fatalf("default config must select the fake executor")
	}
	cfg.Actions.WebhookURL = "http://localhost:9999/actions"
	if _, ok := executorFromConfig(cfg).(*action.Webhook); !ok {
		t.Fatalf("webhook url must select the webhook executor")
	}
}

func TestBuildRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = dir
	cfg.Paths.DBPath = filepath.Join(dir, "orchard.db")

	rt, err := buildRuntime(cfg)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.close()

	if rt.queue == nil || rt.orch == nil || rt.workflow == nil || rt.approvals == nil {
		t.Fatalf("runtime missing components: %+v", rt)
	}
	if _, ok := rt.usage.(usage.LogEmitter); !ok {
		t.Fatalf("default config must select the log emitter")
	}
}
