package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

func registerFixture(t *testing.T, store *Store, planID string) {
	t.Helper()
	ctx := context.Background()
	reg := &types.PlanRegistration{
		ID:      planID,
		BaseRev: "rev-1",
		Steps: []types.StepRegistration{
			{Anchor: "s1", Title: "First", Items: []types.ItemRegistration{
				{Kind: types.KindTask, Ordinal: 1, Text: "do the thing"},
				{Kind: types.KindTask, Ordinal: 2, Text: "do the other thing"},
				{Kind: types.KindTest, Ordinal: 1, Text: "prove it works"},
			}},
			{Anchor: "s2", Title: "Second", DependsOn: []string{"s1"}},
			{Anchor: "s3", Title: "Third", DependsOn: []string{"s1"}},
			{Anchor: "s4", Title: "Fourth", DependsOn: []string{"s2", "s3"}},
		},
	}
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.RegisterPlan(ctx, reg)
	})
	require.NoError(t, err)
}

func TestRegisterPlanRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-rt")

	plan, err := store.GetPlan(ctx, "plan-rt")
	require.NoError(t, err)
	require.Equal(t, types.PlanActive, plan.Status)
	require.Equal(t, "rev-1", plan.BaseRev)
	require.False(t, plan.CreatedAt.IsZero())

	steps, err := store.ListSteps(ctx, "plan-rt")
	require.NoError(t, err)
	require.Len(t, steps, 4)
	for _, s := range steps {
		require.Equal(t, types.StepPending, s.Status)
		require.Empty(t, s.Claimant)
		require.Nil(t, s.LeaseExpiresAt)
	}

	deps, err := store.ListDependencies(ctx, "plan-rt")
	require.NoError(t, err)
	require.Len(t, deps, 4)

	items, err := store.ListItems(ctx, "plan-rt", "s1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	// Kind display order, then ordinal.
	require.Equal(t, "task:1", items[0].Ref())
	require.Equal(t, "task:2", items[1].Ref())
	require.Equal(t, "test:1", items[2].Ref())
	for _, it := range items {
		require.Equal(t, types.ItemOpen, it.Status)
	}
}

func TestRegisterPlanDuplicate(t *testing.T) {
	store := newTestStore(t)
	registerFixture(t, store, "plan-dup")

	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.RegisterPlan(ctx, &types.PlanRegistration{
			ID:    "plan-dup",
			Steps: []types.StepRegistration{{Anchor: "x", Title: "X"}},
		})
	})
	require.ErrorIs(t, err, storage.ErrPlanExists)
}

func TestGetPlanNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetPlan(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReadyStepsFollowsDependencies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-ready")

	ready, err := store.ReadySteps(ctx, "plan-ready")
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, ready)

	// Completing s1 unblocks s2 and s3 but not s4.
	err = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpdateStep(ctx, "plan-ready", "s1", map[string]interface{}{
			"status":       types.StepCompleted,
			"completed_at": time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	ready, err = store.ReadySteps(ctx, "plan-ready")
	require.NoError(t, err)
	require.Equal(t, []string{"s2", "s3"}, ready)
}

func TestClaimStepGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-claim")

	expires := time.Now().Add(10 * time.Minute)
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.ClaimStep(ctx, "plan-claim", "s1", "ws-a", expires)
		require.NoError(t, err)
		require.True(t, ok)

		// The row is no longer pending; a second guarded update loses.
		ok, err = tx.ClaimStep(ctx, "plan-claim", "s1", "ws-b", expires)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	step, err := store.GetStep(ctx, "plan-claim", "s1")
	require.NoError(t, err)
	require.Equal(t, types.StepClaimed, step.Status)
	require.Equal(t, "ws-a", step.Claimant)
	require.NotNil(t, step.LeaseExpiresAt)
}

func TestRenewLeaseGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-renew")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.ClaimStep(ctx, "plan-renew", "s1", "ws-a", time.Now().Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		later := time.Now().Add(time.Hour)
		ok, err = tx.RenewLease(ctx, "plan-renew", "s1", "ws-a", later)
		require.NoError(t, err)
		require.True(t, ok)

		// Wrong claimant never renews.
		ok, err = tx.RenewLease(ctx, "plan-renew", "s1", "ws-b", later)
		require.NoError(t, err)
		require.False(t, ok)

		// Unclaimed step never renews.
		ok, err = tx.RenewLease(ctx, "plan-renew", "s2", "ws-a", later)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSetItemStatusUnknownPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-item")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.SetItemStatus(ctx, "plan-item", "s1", types.KindTask, 1, types.ItemCompleted, "")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.SetItemStatus(ctx, "plan-item", "s1", types.KindTask, 99, types.ItemCompleted, "")
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestCompleteRemaining(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-sweep")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.SetItemStatus(ctx, "plan-sweep", "s1", types.KindTask, 2, types.ItemDeferred, "out of scope")
		require.NoError(t, err)
		require.True(t, ok)

		// Excluded pairs are skipped even when still open.
		swept, err := tx.CompleteRemaining(ctx, "plan-sweep", "s1",
			[]types.ItemKey{{Kind: types.KindTask, Ordinal: 1}})
		require.NoError(t, err)
		require.Equal(t, []string{"test:1"}, swept)

		swept, err = tx.CompleteRemaining(ctx, "plan-sweep", "s1", nil)
		require.NoError(t, err)
		require.Equal(t, []string{"task:1"}, swept)
		return nil
	})
	require.NoError(t, err)

	items, err := store.ListItems(ctx, "plan-sweep", "s1")
	require.NoError(t, err)
	byRef := map[string]*types.ChecklistItem{}
	for _, it := range items {
		byRef[it.Ref()] = it
	}
	require.Equal(t, types.ItemCompleted, byRef["task:1"].Status)
	require.Equal(t, types.ItemDeferred, byRef["task:2"].Status)
	require.Equal(t, "out of scope", byRef["task:2"].Reason)
	require.Equal(t, types.ItemCompleted, byRef["test:1"].Status)
}

func TestReplaceItemsPreservesSurvivors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-replace")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.SetItemStatus(ctx, "plan-replace", "s1", types.KindTask, 1, types.ItemCompleted, "")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = tx.SetItemStatus(ctx, "plan-replace", "s1", types.KindTask, 2, types.ItemDeferred, "later")
		require.NoError(t, err)
		require.True(t, ok)

		// New set: task:1 survives with new text, task:2 dropped, test:1
		// survives, checkpoint:1 added.
		target := []types.ItemRegistration{
			{Kind: types.KindTask, Ordinal: 1, Text: "do the thing, renamed"},
			{Kind: types.KindTest, Ordinal: 1, Text: "prove it works"},
			{Kind: types.KindCheckpoint, Ordinal: 1, Text: "review"},
		}
		return tx.ReplaceItems(ctx, "plan-replace", "s1", target, "plan revision 2")
	})
	require.NoError(t, err)

	items, err := store.ListItems(ctx, "plan-replace", "s1")
	require.NoError(t, err)
	require.Len(t, items, 3)

	byRef := map[string]*types.ChecklistItem{}
	for _, it := range items {
		byRef[it.Ref()] = it
	}
	require.Equal(t, types.ItemCompleted, byRef["task:1"].Status)
	require.Equal(t, "do the thing, renamed", byRef["task:1"].Text)
	require.Equal(t, types.ItemOpen, byRef["checkpoint:1"].Status)
	for _, it := range items {
		require.Equal(t, "plan revision 2", it.ReconcileReason)
	}
}

func TestEventsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-ev")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, typ := range []string{types.EventRegistered, types.EventClaimed, types.EventCompleted} {
			if err := tx.InsertEvent(ctx, &types.Event{PlanID: "plan-ev", Type: typ, Actor: "t"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	events, err := store.Events(ctx, "plan-ev", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, types.EventCompleted, events[0].Type)
	require.Equal(t, types.EventRegistered, events[2].Type)
	require.False(t, events[0].CreatedAt.IsZero())

	limited, err := store.Events(ctx, "plan-ev", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestDeletePlanCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	registerFixture(t, store, "plan-del")

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.DeletePlan(ctx, "plan-del")
	})
	require.NoError(t, err)

	_, err = store.GetPlan(ctx, "plan-del")
	require.ErrorIs(t, err, storage.ErrNotFound)
	steps, err := store.ListSteps(ctx, "plan-del")
	require.NoError(t, err)
	require.Empty(t, steps)
}
