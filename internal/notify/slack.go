// Package notify delivers reviewer notifications for pending approvals.
// Delivery is best-effort: a notification failure never blocks or fails the
// approval itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/orchard-run/orchard/internal/store"
)

// Notifier announces a newly requested approval to reviewers.
type Notifier interface {
	ApprovalRequested(ctx context.Context, a *store.Approval)
}

// Noop discards notifications.
type Noop struct{}

// ApprovalRequested implements Notifier.
func (Noop) ApprovalRequested(context.Context, *store.Approval) {}

// Slack posts pending approvals to a Slack channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a Slack notifier from a bot token and channel ID.
func NewSlack(token, channel string) *Slack {
	return &Slack{client: slack.New(token), channel: channel}
}

// ApprovalRequested implements Notifier.
func (s *Slack) ApprovalRequested(ctx context.Context, a *store.Approval) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("Approval needed: *%s* (risk %s) on thread %s\nApproval ID: `%s`",
		a.ActionType, a.RiskLevel, a.ThreadID, a.ApprovalID)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		slog.Warn("slack approval notification failed", "approval_id", a.ApprovalID, "error", err)
	}
}
