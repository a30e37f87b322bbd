package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

var retryTypes []string

var retryCmd = &cobra.Command{
	Use:   "retry <roadmap-id>",
	Short: "Regenerate failed content for a roadmap",
	Long: `Start a backend retry task covering only failed content.

By default all content types are retried; --types narrows the selection.

Examples:
  roadmapctl retry rm-42
  roadmapctl retry rm-42 --types tutorial,quiz`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().StringSliceVar(&retryTypes, "types", nil, "content types to retry (tutorial, resources, quiz)")
	rootCmd.AddCommand(retryCmd)
}

func parseContentTypes(names []string) ([]roadmap.ContentType, error) {
	if len(names) == 0 {
		return roadmap.AllContentTypes(), nil
	}
	var types []roadmap.ContentType
	for _, n := range names {
		ct := roadmap.ContentType(n)
		switch ct {
		case roadmap.ContentTypeTutorial, roadmap.ContentTypeResources, roadmap.ContentTypeQuiz:
			types = append(types, ct)
		default:
			return nil, fmt.Errorf("unknown content type %q (want tutorial, resources or quiz)", n)
		}
	}
	return types, nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	roadmapID := args[0]

	types, err := parseContentTypes(retryTypes)
	if err != nil {
		return err
	}

	resp, err := apiClient.RetryFailed(ctx, roadmapID, nil, types)
	if err != nil {
		return err
	}

	if resp.ItemsToRetry == 0 {
		fmt.Println("Nothing to retry")
		return nil
	}

	fmt.Printf("Retry task %s started: %d items\n", resp.TaskID, resp.ItemsToRetry)
	fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("Use 'roadmapctl watch %s' to follow it.", roadmapID)))
	return nil
}
