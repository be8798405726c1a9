package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/types"
)

func TestReclaimExpiredPreservesProgress(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	// Claim on a lease short enough to expire within the test.
	res, err := eng.ClaimNext(ctx, "p", "ws-a", 25*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "s1", res.Step.Anchor)

	// Record partial progress before the claimant "dies".
	_, err = eng.UpdateItems(ctx, "p", "s1", "ws-a", []ItemUpdate{
		{Kind: types.KindTask, Ordinal: 1, Status: types.ItemCompleted},
		{Kind: types.KindTask, Ordinal: 2, Status: types.ItemInProgress},
	}, false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	reclaimed, err := eng.ReclaimExpired(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, reclaimed)

	status, err := eng.Status(ctx, "p")
	require.NoError(t, err)
	s1 := status.Steps[0].Step
	require.Equal(t, types.StepPending, s1.Status)
	require.Empty(t, s1.Claimant)
	require.Nil(t, s1.LeaseExpiresAt)
	require.Nil(t, s1.StartedAt)

	// The ledger survives; the next claimant resumes, not repeats.
	items, err := eng.Items(ctx, "p", "s1")
	require.NoError(t, err)
	require.Equal(t, types.ItemCompleted, items[0].Status)
	require.Equal(t, types.ItemInProgress, items[1].Status)

	next, err := eng.ClaimNext(ctx, "p", "ws-b", testLease)
	require.NoError(t, err)
	require.Equal(t, "s1", next.Step.Anchor)
	require.Equal(t, "ws-b", next.Step.Claimant)
}

func TestReclaimExpiredLeavesLiveLeases(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	_, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)

	reclaimed, err := eng.ReclaimExpired(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, reclaimed)

	status, err := eng.Status(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, types.StepClaimed, status.Steps[0].Step.Status)
	require.Equal(t, "ws-a", status.Steps[0].Step.Claimant)
}

func TestReclaimExpiredIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	_, err := eng.ClaimNext(ctx, "p", "ws-a", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	first, err := eng.ReclaimExpired(ctx, "p")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := eng.ReclaimExpired(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestReclaimEventsShareSweepID(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Two independent roots, both expired in the same sweep.
	reg := &types.PlanRegistration{ID: "p2", Steps: []types.StepRegistration{
		{Anchor: "a", Title: "A"},
		{Anchor: "b", Title: "B"},
	}}
	require.NoError(t, eng.RegisterPlan(ctx, reg, "test"))

	_, err := eng.ClaimNext(ctx, "p2", "ws-a", time.Millisecond)
	require.NoError(t, err)
	_, err = eng.ClaimNext(ctx, "p2", "ws-b", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	reclaimed, err := eng.ReclaimExpired(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, reclaimed, 2)

	events, err := eng.Events(ctx, "p2", 0)
	require.NoError(t, err)
	var sweeps []string
	var holders []string
	for _, ev := range events {
		if ev.Type == types.EventReclaimed {
			sweeps = append(sweeps, ev.CorrelationID)
			holders = append(holders, ev.OldValue)
		}
	}
	require.Len(t, sweeps, 2)
	require.Equal(t, sweeps[0], sweeps[1], "one sweep, one correlation id")
	require.NotEmpty(t, sweeps[0])
	require.ElementsMatch(t, []string{"ws-a", "ws-b"}, holders)
}

func TestReclaimerSweepsInBackground(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerDiamond(t, eng, "p")

	_, err := eng.ClaimNext(ctx, "p", "ws-a", time.Millisecond)
	require.NoError(t, err)

	rec := NewReclaimer(eng, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		status, err := eng.Status(ctx, "p")
		if err != nil {
			return false
		}
		return status.Steps[0].Step.Status == types.StepPending
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
