package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/planfile"
)

var (
	reconcileStep   string
	reconcileMode   string
	reconcileReason string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile --step S --mode M --reason R <plan.yaml>",
	Short: "Force-align a step's ledger to the plan text",
	Long: `Resolve confirmed drift by aligning the stored checklist of one step
to the plan document. A reason is mandatory and is persisted on every
affected row and in the audit trail.

Modes:
  align-text  rewrite stored item texts for pairs present on both
              sides; statuses and the item set are untouched
  replace     force-align the item set to the document, preserving the
              status and deferral reason of surviving pairs

Run 'loom drift' first; reconciliation is recovery, not routine flow.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := planfile.Load(args[0])
		if err != nil {
			exitErr(err)
		}
		target, ok := doc.Checklist(reconcileStep)
		if !ok {
			exitErr(fmt.Errorf("plan document %s has no step %q", args[0], reconcileStep))
		}

		var result *engine.ReconcileResult
		err = withStorageRetry(func() error {
			var err error
			result, err = eng.Reconcile(rootCtx, doc.Plan, reconcileStep, engine.ReconcileMode(reconcileMode), reconcileReason, target)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		if len(result.Changed) == 0 {
			fmt.Printf("%s Nothing to reconcile for %s/%s\n", green("✓"), doc.Plan, reconcileStep)
			return
		}
		fmt.Printf("%s Reconciled %s/%s (%s): %s\n", yellow("!"), doc.Plan, reconcileStep,
			result.Mode, strings.Join(result.Changed, ", "))
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileStep, "step", "", "step anchor to reconcile")
	reconcileCmd.Flags().StringVar(&reconcileMode, "mode", "", "align-text or replace")
	reconcileCmd.Flags().StringVar(&reconcileReason, "reason", "", "operator reason, recorded in the audit trail")
	_ = reconcileCmd.MarkFlagRequired("step")
	_ = reconcileCmd.MarkFlagRequired("mode")
	_ = reconcileCmd.MarkFlagRequired("reason")
}
