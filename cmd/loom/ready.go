package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var readyPlan string

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List the steps currently claimable for a plan",
	Run: func(cmd *cobra.Command, args []string) {
		var anchors []string
		err := withStorageRetry(func() error {
			var err error
			anchors, err = eng.ReadySteps(rootCtx, readyPlan)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": readyPlan, "ready": anchors})
			return
		}
		if len(anchors) == 0 {
			fmt.Println("No steps ready.")
			return
		}
		for _, a := range anchors {
			fmt.Printf("%s %s\n", green("•"), a)
		}
	},
}

func init() {
	rootCmd.AddCommand(readyCmd)
	readyCmd.Flags().StringVar(&readyPlan, "plan", "", "plan identifier")
	_ = readyCmd.MarkFlagRequired("plan")
}
