package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook is an Executor that delegates actions to an external HTTP endpoint.
// The endpoint receives {"action_type", "payload"} and answers with
// {"output": {...}} on success or a non-200 status with an error body.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook executor targeting url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: strings.TrimSuffix(url, "/"),
		// Per-call deadlines come from the Execute timeout.
		httpClient: &http.Client{},
	}
}

type webhookRequest struct {
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type webhookResponse struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Execute implements Executor.
func (wh *Webhook) Execute(ctx context.Context, actionType string, payload map[string]any, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(webhookRequest{ActionType: actionType, Payload: payload})
	if err != nil {
		return nil, &Error{ActionType: actionType, Message: "marshal request: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{ActionType: actionType, Message: "create request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wh.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{ActionType: actionType, Message: "timeout: " + ctx.Err().Error()}
		}
		return nil, &Error{ActionType: actionType, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{ActionType: actionType, Message: "read response: " + err.Error()}
	}

	var out webhookResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil && resp.StatusCode == http.StatusOK {
			return nil, &Error{ActionType: actionType, Message: "parse response: " + err.Error()}
		}
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &Error{ActionType: actionType, Message: msg}
	}
	return &Result{Output: out.Output}, nil
}
