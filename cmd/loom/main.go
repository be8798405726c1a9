// Command loom coordinates concurrent orchestrator workspaces executing
// a shared work plan: registering plans, claiming steps under leases,
// recording checklist progress, gating completion, and reclaiming
// abandoned work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/storage/sqlite"
	"github.com/loomworks/loom/internal/telemetry"
)

// version is stamped by the release build.
var version = "dev"

var (
	cfg        *config.Config
	store      *sqlite.Store
	eng        *engine.Engine
	log        = logrus.New()
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	flagDB        string
	flagWorkspace string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "loom",
	Short:         "Plan coordination engine for concurrent orchestrator workspaces",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false})
		if flagVerbose {
			log.SetLevel(logrus.DebugLevel)
		} else {
			log.SetLevel(logrus.WarnLevel)
		}

		v := config.New()
		if err := v.BindPFlag("db", cmd.Flags().Lookup("db")); err != nil {
			return err
		}
		if err := v.BindPFlag("workspace", cmd.Flags().Lookup("workspace")); err != nil {
			return err
		}
		if err := v.BindPFlag("json", cmd.Flags().Lookup("json")); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		jsonOutput = cfg.JSON

		if err := telemetry.Init(rootCtx, "loom", version); err != nil {
			return err
		}

		// `loom init` creates the store; everything else requires it.
		if cmd.Name() == "init" {
			return nil
		}
		if _, statErr := os.Stat(cfg.DBPath); statErr != nil {
			return fmt.Errorf("no coordination store at %s (run 'loom init' first)", cfg.DBPath)
		}
		store, err = sqlite.New(rootCtx, cfg.DBPath)
		if err != nil {
			return err
		}
		eng = engine.New(store, engine.WithLogger(log))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the coordination store (default .loom/loom.db)")
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "claimant identity (default: current directory)")
	rootCmd.PersistentFlags().Bool("json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
