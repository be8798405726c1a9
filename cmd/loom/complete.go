package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

var (
	completePlan     string
	completeStep     string
	completeEvidence string
	completeForce    bool
	completeReason   string
	completeAdmin    bool
)

var completeCmd = &cobra.Command{
	Use:   "complete --plan P --step S",
	Short: "Complete a held step, gated on its checklist",
	Long: `Close a step this workspace holds. The gate refuses unless every
checklist item is completed or deferred; the refusal lists exactly
which items still block.

--force (with a mandatory --reason) completes the step anyway and
force-completes the unresolved items with the same reason. --admin
additionally bypasses the holder check: any non-completed step jumps
straight to completed, regardless of who holds it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if (completeForce || completeAdmin) && completeReason == "" {
			exitErr(fmt.Errorf("--force and --admin require --reason"))
		}

		var result *engine.CompleteResult
		err := withStorageRetry(func() error {
			var err error
			if completeAdmin {
				result, err = eng.ForceCompleteStep(rootCtx, completePlan, completeStep, cfg.Workspace, completeEvidence, completeReason)
			} else {
				result, err = eng.CompleteStep(rootCtx, completePlan, completeStep, cfg.Workspace, completeEvidence, completeForce, completeReason)
			}
			return err
		})
		if err != nil {
			var incomplete *engine.IncompleteError
			if errors.As(err, &incomplete) && !jsonOutput {
				fmt.Printf("%s Step %s/%s cannot complete; unresolved items:\n", red("✗"), completePlan, completeStep)
				for _, it := range incomplete.Items {
					fmt.Printf("  %s %s (%s)\n", yellow("•"), it.Ref(), it.Text)
				}
				fmt.Println("Finish or defer them, or use --force --reason.")
			}
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		fmt.Printf("%s Completed %s/%s\n", green("✓"), completePlan, completeStep)
		if len(result.ForcedItems) > 0 {
			fmt.Printf("%s force-completed items: %s\n", yellow("!"), strings.Join(result.ForcedItems, ", "))
		}
		if result.PlanDone {
			fmt.Printf("%s Plan %s is done.\n", green("✓"), completePlan)
		}
	},
}

func init() {
	rootCmd.AddCommand(completeCmd)
	completeCmd.Flags().StringVar(&completePlan, "plan", "", "plan identifier")
	completeCmd.Flags().StringVar(&completeStep, "step", "", "step anchor")
	completeCmd.Flags().StringVar(&completeEvidence, "evidence", "", "completion evidence, e.g. a commit SHA")
	completeCmd.Flags().BoolVar(&completeForce, "force", false, "complete despite unresolved checklist items (requires --reason)")
	completeCmd.Flags().StringVar(&completeReason, "reason", "", "reason recorded with a forced completion")
	completeCmd.Flags().BoolVar(&completeAdmin, "admin", false, "administrative completion regardless of holder (requires --reason)")
	_ = completeCmd.MarkFlagRequired("plan")
	_ = completeCmd.MarkFlagRequired("step")
}
