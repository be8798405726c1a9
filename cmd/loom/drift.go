package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/planfile"
)

var driftWatch bool

var driftCmd = &cobra.Command{
	Use:   "drift <plan.yaml>",
	Short: "Compare the stored checklists against the plan text",
	Long: `Re-read the plan document and report every divergence between it and
the stored checklist ledger. Nothing is changed; use 'loom reconcile'
to resolve confirmed drift.

With --watch the document is re-checked on every save until
interrupted. Exits non-zero when drift is found (one-shot mode only).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		if driftWatch {
			watchDrift(path)
			return
		}
		n, err := runDriftCheck(path)
		if err != nil {
			exitErr(err)
		}
		if n > 0 {
			os.Exit(1)
		}
	},
}

// runDriftCheck loads the document, diffs it against the ledger, and
// prints the findings. Returns the mismatch count.
func runDriftCheck(path string) (int, error) {
	doc, err := planfile.Load(path)
	if err != nil {
		return 0, err
	}

	var mismatches []engine.Mismatch
	err = withStorageRetry(func() error {
		var err error
		mismatches, err = eng.CheckDrift(rootCtx, doc.Plan, doc.Checklists())
		return err
	})
	if err != nil {
		return 0, err
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{"plan": doc.Plan, "mismatches": mismatches})
		return len(mismatches), nil
	}
	if len(mismatches) == 0 {
		fmt.Printf("%s No drift: ledger matches %s\n", green("✓"), path)
		return 0, nil
	}
	fmt.Printf("%s %d mismatch(es) between ledger and %s:\n", red("✗"), len(mismatches), path)
	for _, m := range mismatches {
		switch m.Type {
		case engine.MismatchAdded:
			fmt.Printf("  %s %s %s:%d added in plan text: %q\n", yellow("+"), m.Step, m.Kind, m.Ordinal, m.PlanText)
		case engine.MismatchRemoved:
			fmt.Printf("  %s %s %s:%d removed from plan text (ledger has %q)\n", yellow("-"), m.Step, m.Kind, m.Ordinal, m.StoredText)
		case engine.MismatchChanged:
			fmt.Printf("  %s %s %s:%d text changed: %q -> %q\n", yellow("~"), m.Step, m.Kind, m.Ordinal, m.StoredText, m.PlanText)
		}
	}
	return len(mismatches), nil
}

// watchDrift re-runs the check whenever the document is written.
// Editors replace files on save, so the parent directory is watched and
// events are filtered by name.
func watchDrift(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		exitErr(err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		exitErr(err)
	}

	if _, err := runDriftCheck(path); err != nil {
		exitErr(err)
	}
	fmt.Printf("%s Watching %s (ctrl-c to stop)\n", cyan("→"), path)

	// Debounce: editors often emit several events per save.
	var pending <-chan time.Time
	for {
		select {
		case <-rootCtx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("drift watcher")
		case <-pending:
			pending = nil
			if _, err := runDriftCheck(path); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.Flags().BoolVar(&driftWatch, "watch", false, "re-check on every save of the plan document")
}
