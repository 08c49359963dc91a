package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchard-run/orchard/internal/config"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and review pending approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		pending, err := rt.approvals.Pending(context.Background())
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		printHeader("✋ Pending Approvals")
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return nil
		}
		for _, a := range pending {
			fmt.Printf("%s  %-14s  risk=%-6s  thread=%s  requested=%s\n",
				a.ApprovalID, a.ActionType, a.RiskLevel, a.ThreadID,
				a.RequestedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var reviewReason string
var reviewReviewer string

var approvalsReviewCmd = &cobra.Command{
	Use:   "review <approval-id> <approve|reject>",
	Short: "Resolve a pending approval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		a, err := rt.approvals.Resolve(context.Background(), args[0], args[1], reviewReviewer, reviewReason)
		if err != nil {
			return fmt.Errorf("review approval: %w", err)
		}
		fmt.Printf("Approval %s is now %s\n", a.ApprovalID, a.Status)
		return nil
	},
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildRuntime(cfg)
}

func init() {
	approvalsReviewCmd.Flags().StringVar(&reviewReason, "reason", "", "Reviewer note attached to the decision")
	approvalsReviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "cli", "Reviewer identity recorded on the approval")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsReviewCmd)
}
