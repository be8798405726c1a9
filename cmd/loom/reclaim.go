package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/types"
)

var (
	reclaimPlan  string
	reclaimEvery string
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return expired leases to the ready pool",
	Long: `Sweep expired leases back to pending. Checklist progress recorded
under a reclaimed step survives, so the next claimant resumes instead
of repeating work.

Without flags this is a one-shot sweep of every active plan; --plan
restricts it to one plan, and --every runs a background sweeper until
interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if reclaimEvery != "" {
			every, err := time.ParseDuration(reclaimEvery)
			if err != nil {
				exitErr(fmt.Errorf("invalid sweep interval %q: %w", reclaimEvery, err))
			}
			fmt.Printf("%s Sweeping every %s (ctrl-c to stop)\n", cyan("→"), every)
			if err := engine.NewReclaimer(eng, every).Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				exitErr(err)
			}
			return
		}

		reclaimed := map[string][]string{}
		err := withStorageRetry(func() error {
			plans, err := plansToSweep()
			if err != nil {
				return err
			}
			for _, p := range plans {
				anchors, err := eng.ReclaimExpired(rootCtx, p)
				if err != nil {
					return err
				}
				if len(anchors) > 0 {
					reclaimed[p] = anchors
				}
			}
			return nil
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(reclaimed)
			return
		}
		if len(reclaimed) == 0 {
			fmt.Println("Nothing to reclaim.")
			return
		}
		for plan, anchors := range reclaimed {
			for _, a := range anchors {
				fmt.Printf("%s reclaimed %s/%s\n", yellow("↺"), plan, a)
			}
		}
	},
}

// plansToSweep resolves --plan or falls back to every active plan.
func plansToSweep() ([]string, error) {
	if reclaimPlan != "" {
		return []string{reclaimPlan}, nil
	}
	plans, err := eng.ListPlans(rootCtx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range plans {
		if p.Status == types.PlanActive {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func init() {
	rootCmd.AddCommand(reclaimCmd)
	reclaimCmd.Flags().StringVar(&reclaimPlan, "plan", "", "restrict the sweep to one plan")
	reclaimCmd.Flags().StringVar(&reclaimEvery, "every", "", "run a background sweeper at this interval, e.g. 30s")
}
