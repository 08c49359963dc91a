// Package tools provides the action registry: the catalog of named
// capabilities the platform may invoke, each with a declared risk level.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAction indicates a requested action is not registered. Callers
// fail fast on it; no approval is ever requested for an unknown action.
var ErrUnknownAction = errors.New("unknown action")

// RiskLevel is a declared sensitivity level on an action type.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// String implements fmt.Stringer.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return RiskLow, fmt.Errorf("invalid risk level: %q", s)
}

// Action describes a registered capability.
type Action struct {
	// Name is the action identifier used in workflow requests.
	Name string
	// Description is a human-readable summary.
	Description string
	// Risk is the declared default risk tier. Tenants may still require
	// approval for lower tiers via policy.
	Risk RiskLevel
	// Capabilities tags the action for planner matching.
	Capabilities []string
}

// Registry maps action names to their declarations.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds or replaces an action declaration.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// Get returns an action by name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return a, nil
}

// List returns all registered actions sorted by name.
func (r *Registry) List() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithDefaults registers the built-in action set used by tests and local
// development.
func (r *Registry) WithDefaults() *Registry {
	r.Register(Action{Name: "send-email", Description: "Send an email on the owner's behalf", Risk: RiskLow, Capabilities: []string{"notify", "email"}})
	r.Register(Action{Name: "post-message", Description: "Post a message to a team channel", Risk: RiskMedium, Capabilities: []string{"notify", "chat"}})
	r.Register(Action{Name: "create-pr", Description: "Open a pull request against a repository", Risk: RiskHigh, Capabilities: []string{"code", "scm"}})
	r.Register(Action{Name: "run-workflow", Description: "Trigger a visual workflow run", Risk: RiskHigh, Capabilities: []string{"automation"}})
	return r
}
