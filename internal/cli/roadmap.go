package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap <roadmap-id>",
	Short: "Show a roadmap tree with per-concept content statuses",
	Long: `Fetch a roadmap and print its stage/module/concept tree.

Each concept shows three status markers: tutorial, resources, quiz.

Examples:
  roadmapctl roadmap rm-42`,
	Args: cobra.ExactArgs(1),
	RunE: runRoadmap,
}

func init() {
	rootCmd.AddCommand(roadmapCmd)
}

func runRoadmap(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rm, err := apiClient.GetRoadmap(ctx, args[0])
	if err != nil {
		return err
	}

	printRoadmap(rm, defaultTheme)
	return nil
}

func printRoadmap(rm *roadmap.Roadmap, theme Theme) {
	fmt.Printf("%s (%s)\n", rm.Title, rm.ID)

	for _, stage := range rm.Stages {
		fmt.Printf("\n%s\n", theme.statusStyle().Render(stage.Name))
		for _, mod := range stage.Modules {
			fmt.Printf("  %s\n", mod.Name)
			for _, c := range mod.Concepts {
				fmt.Printf("    %s%s%s %s\n",
					theme.statusGlyph(c.ContentStatus),
					theme.statusGlyph(c.ResourcesStatus),
					theme.statusGlyph(c.QuizStatus),
					c.Name)
			}
		}
	}

	stats := roadmap.ComputeStats(rm)
	fmt.Printf("\nTutorials: %d/%d completed", stats.Completed, stats.Total)
	if stats.Failed > 0 {
		fmt.Printf(", %s", defaultTheme.errorStyle().Render(fmt.Sprintf("%d failed", stats.Failed)))
	}
	fmt.Println()
	fmt.Println(theme.hintStyle().Render("markers: tutorial/resources/quiz  ✓ completed  ~ generating  ✗ failed  · pending"))
}
