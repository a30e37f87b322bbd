package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/741311791/roadmap-agent-sub009/internal/metrics"
	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

var (
	watchHistory bool
	watchStats   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <roadmap-id>",
	Short: "Follow roadmap generation live",
	Long: `Load a roadmap, subscribe to its active task's event channel and show
generation progress until it finishes.

When the channel drops, progress keeps flowing through the polling fallback.
With --history the backend replays events from before the subscription, which
recovers progress made while no client was watching. Outside a terminal the
interactive display degrades to one line per change.

Examples:
  roadmapctl watch rm-42
  roadmapctl watch rm-42 --history --stats`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchHistory, "history", false, "replay events from before the subscription")
	watchCmd.Flags().BoolVar(&watchStats, "stats", false, "print sync statistics on exit")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, rec, collector := newReconciler()
	defer rec.Close()

	if err := rec.LoadRoadmap(ctx, args[0]); err != nil {
		return err
	}

	if rec.TaskID() == "" {
		stats := rec.Stats()
		fmt.Printf("No active generation. Tutorials: %d/%d completed", stats.Completed, stats.Total)
		if stats.Failed > 0 {
			fmt.Printf(", %d failed", stats.Failed)
		}
		fmt.Println()
		return nil
	}

	if err := rec.ConnectEvents(ctx, watchHistory); err != nil {
		// The poll fallback still tracks the task.
		logger.Warn("event channel connect failed, relying on polling", "error", err)
	}

	var err error
	if term.IsTerminal(int(os.Stdout.Fd())) {
		err = runWatchUI(rec, store)
	} else {
		err = runWatchPlain(ctx, rec, store)
	}

	if watchStats {
		printStats(collector.Snapshot())
	}
	return err
}

// runWatchPlain prints one line per change. It serves piped output and dumb
// terminals.
func runWatchPlain(ctx context.Context, rec watchReconciler, store *roadmap.Store) error {
	updates, cancel := store.Subscribe()
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastPhase roadmap.GenerationPhase
	reviewAnnounced := false

	for {
		select {
		case <-ctx.Done():
			fmt.Println("stopped watching; generation continues server-side")
			return nil

		case u := <-updates:
			if u.ConceptID == "" {
				continue
			}
			stats := rec.Stats()
			fmt.Printf("%s %s %s (%d/%d)\n", u.ConceptID, u.ContentType, u.Status, stats.Completed, stats.Total)

		case <-ticker.C:
			phase, sub := rec.Phase()
			if phase != lastPhase && phase != roadmap.PhaseUnknown {
				lastPhase = phase
				if sub != "" {
					fmt.Printf("phase: %s (%s)\n", phase, sub)
				} else {
					fmt.Printf("phase: %s\n", phase)
				}
			}

			if required, review := rec.ReviewRequired(); required {
				if !reviewAnnounced {
					reviewAnnounced = true
					if review != nil {
						fmt.Printf("review required: %s (%d stages)\n", review.Title, review.StageCount)
					} else {
						fmt.Println("review required")
					}
					fmt.Printf("resolve with: roadmapctl approve %s\n", rec.TaskID())
				}
				continue
			}
			reviewAnnounced = false

			if phase == roadmap.PhaseCompleted {
				stats := rec.Stats()
				fmt.Printf("done. tutorials: %d/%d completed, %d failed\n", stats.Completed, stats.Total, stats.Failed)
				return nil
			}
			if !rec.Live() && !rec.Polling() {
				return fmt.Errorf("generation stopped without completing; check 'roadmapctl status %s'", rec.TaskID())
			}
		}
	}
}

// printStats dumps a metrics snapshot in a stable order.
func printStats(snap metrics.Snapshot) {
	fmt.Printf("\nSync statistics (%.1fs):\n", snap.UptimeSeconds)
	fmt.Printf("  Reconnects:      %d\n", snap.Reconnects)
	fmt.Printf("  Polls:           %d\n", snap.Polls)
	fmt.Printf("  Refetches:       %d\n", snap.Refetches)
	fmt.Printf("  Stale demotions: %d\n", snap.StaleDemoted)

	if len(snap.Events) > 0 {
		fmt.Println("\n  Events:")
		types := make([]string, 0, len(snap.Events))
		for t := range snap.Events {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("    %-24s %d\n", t, snap.Events[t])
		}
	}

	if len(snap.Requests) > 0 {
		fmt.Println("\n  Requests:")
		ops := make([]string, 0, len(snap.Requests))
		for op := range snap.Requests {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			r := snap.Requests[op]
			fmt.Printf("    %-16s count=%d errors=%d avg=%.1fms\n", op, r.Count, r.Errors, r.AvgTimeMs)
		}
	}
}
