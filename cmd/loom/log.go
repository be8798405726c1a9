package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/types"
)

var (
	logPlan  string
	logLimit int
)

var logCmd = &cobra.Command{
	Use:   "log --plan P",
	Short: "Show a plan's audit trail, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		var events []*types.Event
		err := withStorageRetry(func() error {
			var err error
			events, err = eng.Events(rootCtx, logPlan, logLimit)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(events)
			return
		}
		for _, ev := range events {
			line := fmt.Sprintf("%s  %-14s %s", ev.CreatedAt.Local().Format(time.RFC3339), ev.Type, ev.Actor)
			if ev.StepAnchor != "" {
				line += " step=" + ev.StepAnchor
			}
			if ev.Reason != "" {
				line += fmt.Sprintf(" reason=%q", ev.Reason)
			}
			switch ev.Type {
			case types.EventForceComplete, types.EventReclaimed, types.EventReconciled:
				fmt.Println(yellow(line))
			default:
				fmt.Println(line)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().StringVar(&logPlan, "plan", "", "plan identifier")
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "maximum events to show (0 for all)")
	_ = logCmd.MarkFlagRequired("plan")
}
