package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/types"
)

var statusPlan string

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	anchorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	leaseStyle   = lipgloss.NewStyle().Faint(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plan progress",
	Long: `Without --plan, list every plan in the store. With --plan, show the
plan's step board: status, claimant, lease expiry, and per-kind
checklist counts for each step.`,
	Run: func(cmd *cobra.Command, args []string) {
		if statusPlan == "" {
			listAllPlans()
			return
		}

		var status *types.PlanStatus
		err := withStorageRetry(func() error {
			var err error
			status, err = eng.Status(rootCtx, statusPlan)
			return err
		})
		if err != nil {
			exitErr(err)
		}

		if jsonOutput {
			outputJSON(status)
			return
		}
		renderBoard(status)
	},
}

func listAllPlans() {
	var plans []*types.Plan
	err := withStorageRetry(func() error {
		var err error
		plans, err = eng.ListPlans(rootCtx)
		return err
	})
	if err != nil {
		exitErr(err)
	}
	if jsonOutput {
		outputJSON(plans)
		return
	}
	if len(plans) == 0 {
		fmt.Println("No plans registered.")
		return
	}
	for _, p := range plans {
		fmt.Printf("%s  %-8s registered %s\n",
			anchorStyle.Render(p.ID), p.Status, humanize.Time(p.CreatedAt))
	}
}

func renderBoard(status *types.PlanStatus) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("Plan %s (%s)", status.Plan.ID, status.Plan.Status)))
	now := time.Now()
	for _, sv := range status.Steps {
		s := sv.Step
		fmt.Printf("  %s %s %s\n", stepGlyph(s.Status), anchorStyle.Render(s.Anchor), s.Title)

		var meta []string
		if s.Claimant != "" {
			meta = append(meta, "claimant "+s.Claimant)
		}
		if s.LeaseExpiresAt != nil {
			if s.LeaseExpired(now) {
				meta = append(meta, activeStyle.Render("lease expired "+humanize.Time(*s.LeaseExpiresAt)))
			} else {
				meta = append(meta, "lease expires "+humanize.Time(*s.LeaseExpiresAt))
			}
		}
		if s.CompletedAt != nil {
			meta = append(meta, "completed "+humanize.Time(*s.CompletedAt))
		}
		if s.ForceReason != "" {
			meta = append(meta, activeStyle.Render(fmt.Sprintf("forced: %s", s.ForceReason)))
		}
		if len(meta) > 0 {
			fmt.Printf("      %s\n", leaseStyle.Render(strings.Join(meta, "  ")))
		}

		var counts []string
		for _, kind := range types.Kinds {
			c, ok := sv.Counts[kind]
			if !ok || c.Total == 0 {
				continue
			}
			part := fmt.Sprintf("%ss %d/%d", kind, c.Completed, c.Total)
			if c.Deferred > 0 {
				part += fmt.Sprintf(" (%d deferred)", c.Deferred)
			}
			counts = append(counts, part)
		}
		if len(counts) > 0 {
			fmt.Printf("      %s\n", strings.Join(counts, "  "))
		}
	}
}

func stepGlyph(s types.StepStatus) string {
	switch s {
	case types.StepCompleted:
		return doneStyle.Render("✓")
	case types.StepClaimed, types.StepInProgress:
		return activeStyle.Render("◐")
	default:
		return pendingStyle.Render("○")
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusPlan, "plan", "", "plan identifier (omit to list all plans)")
}
