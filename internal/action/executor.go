// Package action defines the contract to the external workflow action
// executor. The executor is opaque to this core: it receives an action type
// and payload and either succeeds with output or fails with an ActionError.
// Action failures are never auto-retried, since the side effect may have
// partially happened; retries require a new job.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Result is a successful action execution.
type Result struct {
	Output map[string]any `json:"output,omitempty"`
}

// Error is an external action failure.
type Error struct {
	ActionType string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("action %s failed: %s", e.ActionType, e.Message)
}

// Executor invokes an external action with a bounded timeout.
type Executor interface {
	Execute(ctx context.Context, actionType string, payload map[string]any, timeout time.Duration) (*Result, error)
}

// Call records one invocation of the fake executor.
type Call struct {
	ActionType string
	Payload    map[string]any
}

// Fake is an in-memory Executor for tests and local development.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	failWith map[string]string // action type -> error message
	delay    time.Duration
}

// NewFake creates a fake executor.
func NewFake() *Fake {
	return &Fake{failWith: make(map[string]string)}
}

// FailOn makes executions of actionType fail with message.
func (f *Fake) FailOn(actionType, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith[actionType] = message
}

// Delay makes every execution sleep first, for timeout tests.
func (f *Fake) Delay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns all recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Execute implements Executor.
func (f *Fake) Execute(ctx context.Context, actionType string, payload map[string]any, timeout time.Duration) (*Result, error) {
	f.mu.Lock()
	delay := f.delay
	failMsg, shouldFail := f.failWith[actionType]
	f.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &Error{ActionType: actionType, Message: "timeout: " + ctx.Err().Error()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{ActionType: actionType, Message: "timeout: " + err.Error()}
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{ActionType: actionType, Payload: payload})
	f.mu.Unlock()

	if shouldFail {
		return nil, &Error{ActionType: actionType, Message: failMsg}
	}
	return &Result{Output: map[string]any{"action": actionType, "ok": true}}, nil
}
