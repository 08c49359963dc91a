package orchestrator

import (
	"time"

	"github.com/orchard-run/orchard/internal/tools"
)

// Agent describes a specialized agent the planner can delegate to. Agents are
// capability-tagged declarations, not runtime-inspected code: the planner
// matches on Capabilities, breaks ties by Priority, and the delegate stage
// honors DependsOn edges when sequencing.
type Agent struct {
	Name string
	// Persona is the system prompt framing the agent's completion calls.
	Persona string
	// Capabilities tags what the agent can handle.
	Capabilities []string
	// Priority breaks ties when several agents match; lower runs first.
	Priority int
	// DependsOn names agents whose output feeds this agent's input. Agents
	// without dependencies fan out in parallel.
	DependsOn []string
	// Profile drives the do-nothing scoring gate.
	Profile Profile
}

// matchProfile folds the agent's capability tags into the relevance terms,
// so a declared capability counts the same as a profile topic.
func (a Agent) matchProfile() Profile {
	if len(a.Capabilities) == 0 {
		return a.Profile
	}
	p := a.Profile
	p.Topics = append(append([]string{}, p.Topics...), a.Capabilities...)
	return p
}

// canUse reports whether the agent's capability tags admit the action. Agents
// without declared capabilities are generalists and may use anything.
func (a Agent) canUse(act tools.Action) bool {
	if len(a.Capabilities) == 0 {
		return true
	}
	for _, tag := range a.Capabilities {
		for _, at := range act.Capabilities {
			if tag == at {
				return true
			}
		}
	}
	return false
}

// TaskContext is the normalized request produced by the intake stage.
type TaskContext struct {
	Text     string        `json:"text"`
	Words    []string      `json:"words"`
	Age      time.Duration `json:"age"`
	Priority int           `json:"priority"`
}

// Subtask statuses recorded by the delegate stage.
const (
	SubtaskCompleted = "completed"
	SubtaskFailed    = "failed"
	SubtaskSkipped   = "skipped" // dependency failed
)

// Subtask is one agent invocation's outcome.
type Subtask struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Outcome is the aggregate stage's merged result.
type Outcome struct {
	Summary  string    `json:"summary"`
	Subtasks []Subtask `json:"subtasks"`
	// NoCapableAgent is set when the planner found no agent worth invoking.
	NoCapableAgent bool `json:"no_capable_agent,omitempty"`
}

// DefaultAgents returns the built-in specialized agent set.
func DefaultAgents() []Agent {
	return []Agent{
		{
			Name:         "researcher",
			Persona:      "You research context and gather relevant facts before others act.",
			Capabilities: []string{"research", "context", "summary"},
			Priority:     1,
			Profile: Profile{
				Topics:          []string{"research", "find", "summarize", "explain", "what", "why", "how"},
				Verbs:           []string{"find", "summarize", "explain", "research", "look"},
				FreshnessWindow: 24 * time.Hour,
				BaseValue:       0.7,
			},
		},
		{
			Name:         "coder",
			Persona:      "You draft code changes and review diffs.",
			Capabilities: []string{"code", "scm", "review"},
			Priority:     2,
			Profile: Profile{
				Topics:          []string{"code", "pr", "bug", "fix", "implement", "review", "deploy"},
				Verbs:           []string{"fix", "implement", "review", "refactor", "create", "open"},
				FreshnessWindow: 7 * 24 * time.Hour,
				BaseValue:       0.8,
			},
		},
		{
			Name:         "communicator",
			Persona:      "You draft outbound messages and notifications.",
			Capabilities: []string{"notify", "email", "chat"},
			Priority:     3,
			Profile: Profile{
				Topics:          []string{"email", "message", "notify", "send", "post", "announce"},
				Verbs:           []string{"send", "notify", "post", "draft", "announce"},
				FreshnessWindow: 24 * time.Hour,
				BaseValue:       0.6,
			},
		},
	}
}
