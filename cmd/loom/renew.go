package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	renewPlan  string
	renewStep  string
	renewLease string
)

var renewCmd = &cobra.Command{
	Use:   "renew --plan P --step S",
	Short: "Extend the lease on a held step",
	Long: `Extend this workspace's lease on a step it holds. Leases are never
extended implicitly; long-running work must renew before expiry or the
reclaimer will return the step to the ready pool.`,
	Run: func(cmd *cobra.Command, args []string) {
		lease := cfg.Lease
		if renewLease != "" {
			d, err := time.ParseDuration(renewLease)
			if err != nil {
				exitErr(fmt.Errorf("invalid lease duration %q: %w", renewLease, err))
			}
			lease = d
		}

		err := withStorageRetry(func() error {
			return eng.RenewLease(rootCtx, renewPlan, renewStep, cfg.Workspace, lease)
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"plan": renewPlan, "step": renewStep,
				"lease_expires_at": time.Now().Add(lease).UTC(),
			})
			return
		}
		fmt.Printf("%s Lease on %s/%s extended by %s\n", green("✓"), renewPlan, renewStep, lease)
	},
}

func init() {
	rootCmd.AddCommand(renewCmd)
	renewCmd.Flags().StringVar(&renewPlan, "plan", "", "plan identifier")
	renewCmd.Flags().StringVar(&renewStep, "step", "", "step anchor")
	renewCmd.Flags().StringVar(&renewLease, "lease", "", "new lease duration (default from config, 20m)")
	_ = renewCmd.MarkFlagRequired("plan")
	_ = renewCmd.MarkFlagRequired("step")
}
