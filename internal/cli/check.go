package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var checkReconcile bool

var checkCmd = &cobra.Command{
	Use:   "check <roadmap-id>",
	Short: "Detect stale content stuck in pending or generating",
	Long: `Run the backend status check for a roadmap.

Content that claims to be pending or generating without an active backend task
behind it is reported as stale. With --reconcile, stale content is demoted to
failed in the local projection and the updated stats are printed, so a
subsequent retry picks it up.

Examples:
  roadmapctl check rm-42
  roadmapctl check rm-42 --reconcile`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkReconcile, "reconcile", false, "demote stale content to failed locally")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	roadmapID := args[0]

	resp, err := apiClient.StatusCheck(ctx, roadmapID)
	if err != nil {
		return err
	}

	if len(resp.ActiveTasks) > 0 {
		fmt.Printf("Active jobs (%d):\n", len(resp.ActiveTasks))
		for _, at := range resp.ActiveTasks {
			fmt.Printf("  %s %s (task %s, %s)\n", at.ConceptID, at.ContentType, at.TaskID, at.Status)
		}
	}

	if len(resp.StaleConcepts) == 0 {
		fmt.Println("No stale content found")
		return nil
	}

	fmt.Printf("Stale content (%d):\n", len(resp.StaleConcepts))
	for _, sc := range resp.StaleConcepts {
		fmt.Printf("  %s %s stuck in %s\n", sc.ConceptID, sc.ContentType, sc.CurrentStatus)
	}

	if !checkReconcile {
		fmt.Println(defaultTheme.hintStyle().Render("\nRun with --reconcile to mark stale content failed, then 'roadmapctl retry' to regenerate it."))
		return nil
	}

	_, rec, _ := newReconciler()
	defer rec.Close()
	if err := rec.LoadRoadmap(ctx, roadmapID); err != nil {
		return err
	}
	rec.ReconcileStatusCheck(resp)

	stats := rec.Stats()
	fmt.Printf("\nDemoted stale content to failed. Tutorials: %d/%d completed, %d failed\n",
		stats.Completed, stats.Total, stats.Failed)
	return nil
}
