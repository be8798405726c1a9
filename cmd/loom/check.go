package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/types"
)

var (
	checkPlan     string
	checkStep     string
	checkRestDone bool
)

var checkCmd = &cobra.Command{
	Use:   "check --plan P --step S [kind:ordinal=status[:reason]]...",
	Short: "Record checklist progress on a held step",
	Long: `Apply a batch of checklist status changes to a step this workspace
holds. Each argument is kind:ordinal=status, with an optional :reason
suffix required when the status is deferred:

  loom check --plan P --step s1 task:1=completed task:2=in_progress
  loom check --plan P --step s1 test:3=deferred:"flaky on CI"
  loom check --plan P --step s1 task:4=deferred:"blocked" --rest-done

--rest-done marks every item not listed and still open or in_progress
as completed, after the explicit updates are applied. The whole batch
is atomic: one bad reference rejects everything.

With no updates and no --rest-done, the step's checklist is listed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && !checkRestDone {
			listItems()
			return
		}
		updates := make([]engine.ItemUpdate, 0, len(args))
		for _, arg := range args {
			u, err := parseItemUpdate(arg)
			if err != nil {
				exitErr(err)
			}
			updates = append(updates, u)
		}

		var result *engine.UpdateResult
		err := withStorageRetry(func() error {
			var err error
			result, err = eng.UpdateItems(rootCtx, checkPlan, checkStep, cfg.Workspace, updates, checkRestDone)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		for _, ref := range result.Updated {
			fmt.Printf("%s %s\n", green("✓"), ref)
		}
		if len(result.Swept) > 0 {
			fmt.Printf("%s remaining completed: %s\n", green("✓"), strings.Join(result.Swept, ", "))
		}
		if result.Began {
			fmt.Printf("%s step %s is now in progress\n", cyan("→"), checkStep)
		}
	},
}

// listItems prints the step's checklist in ledger order.
func listItems() {
	var items []*types.ChecklistItem
	err := withStorageRetry(func() error {
		var err error
		items, err = eng.Items(rootCtx, checkPlan, checkStep)
		return err
	})
	if err != nil {
		exitErr(err)
	}
	if jsonOutput {
		outputJSON(items)
		return
	}
	for _, it := range items {
		glyph := yellow("•")
		if it.Status.Resolved() {
			glyph = green("✓")
		}
		line := fmt.Sprintf("%s %-13s %-12s %s", glyph, it.Ref(), it.Status, it.Text)
		if it.Reason != "" {
			line += fmt.Sprintf(" (%s)", it.Reason)
		}
		fmt.Println(line)
	}
}

// parseItemUpdate parses one kind:ordinal=status[:reason] argument.
func parseItemUpdate(arg string) (engine.ItemUpdate, error) {
	var u engine.ItemUpdate
	ref, rest, ok := strings.Cut(arg, "=")
	if !ok {
		return u, fmt.Errorf("malformed update %q: want kind:ordinal=status[:reason]", arg)
	}
	kind, ord, ok := strings.Cut(ref, ":")
	if !ok {
		return u, fmt.Errorf("malformed item reference %q: want kind:ordinal", ref)
	}
	n, err := strconv.Atoi(ord)
	if err != nil {
		return u, fmt.Errorf("malformed ordinal in %q: %w", arg, err)
	}
	status, reason, _ := strings.Cut(rest, ":")

	u.Kind = types.ItemKind(kind)
	u.Ordinal = n
	u.Status = types.ItemStatus(status)
	u.Reason = reason
	return u, nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPlan, "plan", "", "plan identifier")
	checkCmd.Flags().StringVar(&checkStep, "step", "", "step anchor")
	checkCmd.Flags().BoolVar(&checkRestDone, "rest-done", false, "complete every unlisted open or in_progress item")
	_ = checkCmd.MarkFlagRequired("plan")
	_ = checkCmd.MarkFlagRequired("step")
}
