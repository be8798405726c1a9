package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var (
	claimPlan  string
	claimLease string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next ready step of a plan",
	Long: `Atomically claim the lowest-anchor ready step and take a lease on it.

If this workspace already holds an unfinished step of the plan, that
step is returned again instead of a second one. When nothing is
claimable the command reports why: other claimants still in flight,
the plan blocked, or the plan complete.`,
	Run: func(cmd *cobra.Command, args []string) {
		lease := cfg.Lease
		if claimLease != "" {
			d, err := time.ParseDuration(claimLease)
			if err != nil {
				exitErr(fmt.Errorf("invalid lease duration %q: %w", claimLease, err))
			}
			lease = d
		}

		var result *engine.ClaimResult
		err := withStorageRetry(func() error {
			var err error
			result, err = eng.ClaimNext(rootCtx, claimPlan, cfg.Workspace, lease)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		switch result.Outcome {
		case engine.OutcomeClaimed:
			s := result.Step
			fmt.Printf("%s Claimed %s/%s: %s\n", green("✓"), s.PlanID, s.Anchor, s.Title)
			if s.LeaseExpiresAt != nil {
				fmt.Printf("  lease expires %s\n", s.LeaseExpiresAt.Local().Format(time.RFC3339))
			}
		case engine.OutcomeNoStepReady:
			fmt.Printf("%s No step ready; other claimants are in flight. Poll again later.\n", yellow("•"))
		case engine.OutcomePlanBlocked:
			fmt.Printf("%s Plan blocked: pending steps exist but none can become ready.\n", red("✗"))
		case engine.OutcomePlanComplete:
			fmt.Printf("%s Plan complete: no work remains.\n", green("✓"))
		}
	},
}

func init() {
	rootCmd.AddCommand(claimCmd)
	claimCmd.Flags().StringVar(&claimPlan, "plan", "", "plan identifier")
	claimCmd.Flags().StringVar(&claimLease, "lease", "", "lease duration (default from config, 20m)")
	_ = claimCmd.MarkFlagRequired("plan")
}
