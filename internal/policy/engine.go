// Package policy decides whether an action invocation requires human
// approval. The policy is an explicit value passed into each engine
// invocation, never process-wide state, so behavior is reproducible per call
// and safe under concurrent tenants.
package policy

import (
	"time"

	"github.com/orchard-run/orchard/internal/tools"
)

// Policy holds a tenant's approval configuration.
type Policy struct {
	// ApprovalThreshold is the lowest risk level that requires approval.
	// Actions at or above it are gated; below it they run directly.
	ApprovalThreshold tools.RiskLevel `json:"approvalThreshold"`
	// AlwaysApprove lists action types gated regardless of their risk tier.
	AlwaysApprove []string `json:"alwaysApprove,omitempty"`
	// ApprovalTimeout is how long a pending approval may wait before it
	// expires and the owning execution fails.
	ApprovalTimeout time.Duration `json:"approvalTimeout"`
}

// Default returns the baseline policy: medium risk and above needs approval,
// pending approvals expire after 24 hours.
func Default() Policy {
	return Policy{
		ApprovalThreshold: tools.RiskMedium,
		ApprovalTimeout:   24 * time.Hour,
	}
}

// Decision is the result of a policy evaluation.
type Decision struct {
	RequiresApproval bool
	Reason           string
}

// Evaluate decides whether an action requires approval. It is a pure function
// of the policy and the action declaration: the same inputs always produce
// the same decision.
func (p Policy) Evaluate(a tools.Action) Decision {
	for _, name := range p.AlwaysApprove {
		if name == a.Name {
			return Decision{RequiresApproval: true, Reason: "action_always_gated"}
		}
	}
	if a.Risk >= p.ApprovalThreshold {
		return Decision{RequiresApproval: true, Reason: "risk_" + a.Risk.String() + "_at_or_above_threshold"}
	}
	return Decision{RequiresApproval: false, Reason: "risk_" + a.Risk.String() + "_below_threshold"}
}
