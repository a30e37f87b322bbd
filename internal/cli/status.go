package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the current status of a generation task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	task, err := apiClient.GetTaskStatus(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task: %s\n", task.TaskID)
	fmt.Printf("  Status: %s\n", task.Status)
	if task.CurrentStep != "" {
		fmt.Printf("  Step: %s\n", task.CurrentStep)
		if phase, sub := roadmap.ParseStep(task.CurrentStep); phase != roadmap.PhaseUnknown {
			if sub != "" {
				fmt.Printf("  Phase: %s (%s)\n", phase, sub)
			} else {
				fmt.Printf("  Phase: %s\n", phase)
			}
		}
	}
	if task.RoadmapID != "" {
		fmt.Printf("  Roadmap: %s\n", task.RoadmapID)
	}

	if task.Status == roadmap.TaskHumanReviewPending {
		fmt.Println(defaultTheme.hintStyle().Render("\nThe task is waiting for review. Use 'roadmapctl approve' to resolve it."))
	}
	return nil
}
