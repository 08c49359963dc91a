package policy

import (
	"testing"

	"github.com/orchard-run/orchard/internal/tools"
)

func TestThresholdGating(t *testing.T) {
	p := Default()

	low := tools.Action{Name: "send-email", Risk: tools.RiskLow}
	if d := p.Evaluate(low); d.RequiresApproval {
		t.Fatalf("low risk should not require approval: %+v", d)
	}

	high := tools.Action{Name: "create-pr", Risk: tools.RiskHigh}
	if d := p.Evaluate(high); !d.RequiresApproval {
		t.Fatalf("high risk should require approval: %+v", d)
	}
}

func TestAlwaysApproveOverridesTier(t *testing.T) {
	p := Default()
	p.AlwaysApprove = []string{"send-email"}

	d := p.Evaluate(tools.Action{Name: "send-email", Risk: tools.RiskLow})
	if !d.RequiresApproval || d.Reason != "action_always_gated" {
		t.Fatalf("expected always-gated decision: %+v", d)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	p := Default()
	a := tools.Action{Name: "post-message", Risk: tools.RiskMedium}
	first := p.Evaluate(a)
	for i := 0; i < 10; i++ {
		if got := p.Evaluate(a); got != first {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", got, first)
		}
	}
}
