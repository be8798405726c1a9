package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var prunePlan string

var pruneCmd = &cobra.Command{
	Use:   "prune --plan P",
	Short: "Remove a finished plan and everything under it",
	Run: func(cmd *cobra.Command, args []string) {
		err := withStorageRetry(func() error {
			return eng.PrunePlan(rootCtx, prunePlan, cfg.Workspace)
		})
		if err != nil {
			exitErr(err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"pruned": prunePlan})
			return
		}
		fmt.Printf("%s Pruned plan %s\n", green("✓"), prunePlan)
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().StringVar(&prunePlan, "plan", "", "plan identifier")
	_ = pruneCmd.MarkFlagRequired("plan")
}
