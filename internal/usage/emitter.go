// Package usage emits usage/audit events for the billing collaborator.
// Emission is fire-and-forget: it never blocks graph progress and failures
// are logged and dropped.
package usage

import (
	"log/slog"
	"time"
)

// Event is a single usage/audit record.
type Event struct {
	ThreadID         string    `json:"thread_id,omitempty"`
	JobID            string    `json:"job_id,omitempty"`
	OwnerID          string    `json:"owner_id,omitempty"`
	Kind             string    `json:"kind"` // completion, action, workflow
	ActionType       string    `json:"action_type,omitempty"`
	Status           string    `json:"status"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	DurationMs       int64     `json:"duration_ms,omitempty"`
	At               time.Time `json:"at"`
}

// Emitter delivers usage events.
type Emitter interface {
	Emit(ev Event)
}

// LogEmitter writes events to the structured log. It is the default sink when
// no broker is configured.
type LogEmitter struct{}

// Emit implements Emitter.
func (LogEmitter) Emit(ev Event) {
	slog.Info("usage event",
		"kind", ev.Kind,
		"status", ev.Status,
		"thread_id", ev.ThreadID,
		"job_id", ev.JobID,
		"action_type", ev.ActionType,
		"total_tokens", ev.TotalTokens,
		"duration_ms", ev.DurationMs)
}

// Discard drops every event. Useful in tests.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
