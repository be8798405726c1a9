package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the coordination store for this plan-hosting location",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := sqlite.New(rootCtx, cfg.DBPath)
		if err != nil {
			exitErr(err)
		}
		defer func() { _ = s.Close() }()
		fmt.Printf("%s Coordination store ready at %s\n", green("✓"), cfg.DBPath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
