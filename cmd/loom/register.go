package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/planfile"
)

var registerCmd = &cobra.Command{
	Use:   "register <plan.yaml>",
	Short: "Register a plan document with the engine",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := planfile.Load(args[0])
		if err != nil {
			exitErr(err)
		}
		reg := doc.Registration()

		err = withStorageRetry(func() error {
			return eng.RegisterPlan(rootCtx, reg, cfg.Workspace)
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": reg.ID, "steps": len(reg.Steps)})
			return
		}
		fmt.Printf("%s Registered plan %s (%d steps)\n", green("✓"), reg.ID, len(reg.Steps))
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
