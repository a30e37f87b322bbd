package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	approveReject   bool
	approveFeedback string
)

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Resolve a task's human-review gate",
	Long: `Approve or reject the curriculum waiting for review on a task.

Approval resumes generation. Rejection sends feedback back to the designer and
leaves the task in review until a revised curriculum arrives.

Examples:
  roadmapctl approve task-7
  roadmapctl approve task-7 --reject --feedback "too much depth in stage 2"`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject the curriculum instead of approving")
	approveCmd.Flags().StringVar(&approveFeedback, "feedback", "", "reviewer feedback to send with the decision")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	taskID := args[0]

	if err := apiClient.ApproveReview(ctx, taskID, !approveReject, approveFeedback); err != nil {
		return err
	}

	if approveReject {
		fmt.Printf("Rejected review for task %s; the curriculum goes back for editing\n", taskID)
	} else {
		fmt.Printf("Approved review for task %s; generation resumes\n", taskID)
		fmt.Println(defaultTheme.hintStyle().Render("Use 'roadmapctl watch' to follow content generation."))
	}
	return nil
}
