package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/types"
)

// authoritative mirrors the diamond fixture's checklists exactly.
func diamondChecklists() []types.StepChecklist {
	var out []types.StepChecklist
	for _, s := range diamondPlan("ignored").Steps {
		out = append(out, types.StepChecklist{Anchor: s.Anchor, Items: s.Items})
	}
	return out
}

func TestCheckDriftCleanLedger(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	mismatches, err := eng.CheckDrift(ctx, "p", diamondChecklists())
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestCheckDriftFindsEveryKind(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	auth := diamondChecklists()
	// s1: change task:1's text, drop test:1, add task:3.
	for i := range auth {
		if auth[i].Anchor != "s1" {
			continue
		}
		var items []types.ItemRegistration
		for _, it := range auth[i].Items {
			if it.Kind == types.KindTest {
				continue
			}
			if it.Kind == types.KindTask && it.Ordinal == 1 {
				it.Text = "lay groundwork, but deeper"
			}
			items = append(items, it)
		}
		items = append(items, types.ItemRegistration{Kind: types.KindTask, Ordinal: 3, Text: "polish"})
		auth[i].Items = items
	}

	mismatches, err := eng.CheckDrift(ctx, "p", auth)
	require.NoError(t, err)
	require.Len(t, mismatches, 3)

	// Sorted by step, kind, ordinal.
	require.Equal(t, MismatchChanged, mismatches[0].Type)
	require.Equal(t, "task:1", refOf(mismatches[0]))
	require.Equal(t, "lay groundwork, but deeper", mismatches[0].PlanText)

	require.Equal(t, MismatchAdded, mismatches[1].Type)
	require.Equal(t, "task:3", refOf(mismatches[1]))

	require.Equal(t, MismatchRemoved, mismatches[2].Type)
	require.Equal(t, "test:1", refOf(mismatches[2]))
}

func TestCheckDriftSingleTextChange(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	auth := diamondChecklists()
	auth[1].Items[0].Text = "build left, with railings"

	mismatches, err := eng.CheckDrift(ctx, "p", auth)
	require.NoError(t, err)
	require.Len(t, mismatches, 1, "exactly the changed item is reported")
	require.Equal(t, MismatchChanged, mismatches[0].Type)
	require.Equal(t, "s2", mismatches[0].Step)

	// CheckDrift is a pure read: the stored text is untouched.
	items, err := eng.Items(ctx, "p", "s2")
	require.NoError(t, err)
	require.Equal(t, "build left", items[0].Text)
}

func TestCheckDriftReportsDroppedStep(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	var auth []types.StepChecklist
	for _, cl := range diamondChecklists() {
		if cl.Anchor != "s1" {
			auth = append(auth, cl)
		}
	}

	mismatches, err := eng.CheckDrift(ctx, "p", auth)
	require.NoError(t, err)
	require.Len(t, mismatches, 3, "every s1 ledger item is reported removed")
	for _, m := range mismatches {
		require.Equal(t, "s1", m.Step)
		require.Equal(t, MismatchRemoved, m.Type)
	}
}

func TestReconcileAlignText(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	target := types.StepChecklist{Anchor: "s1", Items: []types.ItemRegistration{
		{Kind: types.KindTask, Ordinal: 1, Text: "lay groundwork, rev 2"},
		{Kind: types.KindTask, Ordinal: 2, Text: "wire plumbing"},
		{Kind: types.KindTest, Ordinal: 1, Text: "foundation tests"},
	}}

	_, err := eng.Reconcile(ctx, "p", "s1", ReconcileAlignText, "", target)
	require.ErrorIs(t, err, ErrReasonRequired)

	res, err := eng.Reconcile(ctx, "p", "s1", ReconcileAlignText, "plan rev 2 renamed the task", target)
	require.NoError(t, err)
	require.Equal(t, []string{"task:1"}, res.Changed)

	items, err := eng.Items(ctx, "p", "s1")
	require.NoError(t, err)
	require.Equal(t, "lay groundwork, rev 2", items[0].Text)
	require.Equal(t, "plan rev 2 renamed the task", items[0].ReconcileReason)
	require.Empty(t, items[1].ReconcileReason, "untouched items carry no reconcile reason")
	require.Len(t, items, 3, "align-text never changes the item set")
}

func TestReconcileReplacePreservesStatuses(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	// Make progress on the surviving item first.
	_, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)
	_, err = eng.UpdateItems(ctx, "p", "s1", "ws-a", []ItemUpdate{
		{Kind: types.KindTask, Ordinal: 1, Status: types.ItemCompleted},
	}, false)
	require.NoError(t, err)

	target := types.StepChecklist{Anchor: "s1", Items: []types.ItemRegistration{
		{Kind: types.KindTask, Ordinal: 1, Text: "lay groundwork"},
		{Kind: types.KindCheckpoint, Ordinal: 1, Text: "sign off"},
	}}
	res, err := eng.Reconcile(ctx, "p", "s1", ReconcileReplace, "scope cut in rev 3", target)
	require.NoError(t, err)
	require.Len(t, res.Changed, 2)

	items, err := eng.Items(ctx, "p", "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, types.ItemCompleted, items[0].Status, "surviving pair keeps its status")
	require.Equal(t, types.ItemOpen, items[1].Status, "added pair starts open")

	events, err := eng.Events(ctx, "p", 1)
	require.NoError(t, err)
	require.Equal(t, types.EventReconciled, events[0].Type)
	require.Equal(t, "scope cut in rev 3", events[0].Reason)
	require.NotEmpty(t, events[0].CorrelationID)
}

func TestReconcileRejectsUnknownMode(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	_, err := eng.Reconcile(ctx, "p", "s1", "overwrite", "reason", types.StepChecklist{Anchor: "s1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
}

func refOf(m Mismatch) string {
	return fmt.Sprintf("%s:%d", m.Kind, m.Ordinal)
}
