package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/types"
)

const testLease = 10 * time.Minute

func TestClaimNextFollowsDependencyOrder(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	// Only the root is ready.
	ready, err := eng.ReadySteps(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, ready)

	res, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)
	require.Equal(t, OutcomeClaimed, res.Outcome)
	require.Equal(t, "s1", res.Step.Anchor)
	require.Equal(t, types.StepClaimed, res.Step.Status)
	require.Equal(t, "ws-a", res.Step.Claimant)
	require.NotNil(t, res.Step.LeaseExpiresAt)

	// A second workspace finds nothing ready while s1 is in flight.
	res, err = eng.ClaimNext(ctx, "p", "ws-b", testLease)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoStepReady, res.Outcome)
	require.Nil(t, res.Step)

	finishStep(t, eng, "p", "s1", "ws-a")

	// Both wings open up; distinct workspaces get distinct steps.
	res, err = eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)
	require.Equal(t, "s2", res.Step.Anchor)
	res, err = eng.ClaimNext(ctx, "p", "ws-b", testLease)
	require.NoError(t, err)
	require.Equal(t, "s3", res.Step.Anchor)
}

func TestClaimNextIdempotentWhileHolding(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	first, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)
	require.Equal(t, "s1", first.Step.Anchor)

	// Claiming again while holding hands the same step back, so a
	// crashed orchestrator that lost the response can resume.
	again, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
	require.NoError(t, err)
	require.Equal(t, OutcomeClaimed, again.Outcome)
	require.Equal(t, "s1", again.Step.Anchor)
}

func TestClaimNextTerminalOutcomes(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	var order []string
	for {
		res, err := eng.ClaimNext(ctx, "p", "ws-a", testLease)
		require.NoError(t, err)
		if res.Outcome != OutcomeClaimed {
			require.Equal(t, OutcomePlanComplete, res.Outcome)
			break
		}
		order = append(order, res.Step.Anchor)
		finishStep(t, eng, "p", res.Step.Anchor, "ws-a")
	}
	require.Equal(t, []string{"s1", "s2", "s3", "s4"}, order)

	status, err := eng.Status(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, types.PlanDone, status.Plan.Status)
}

func TestClaimNextValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	_, err := eng.ClaimNext(ctx, "p", "", testLease)
	require.Error(t, err)
	_, err = eng.ClaimNext(ctx, "p", "ws-a", 0)
	require.Error(t, err)
	_, err = eng.ClaimNext(ctx, "missing", "ws-a", testLease)
	require.Error(t, err)
}

// TestClaimNextConcurrent hammers one plan with parallel claimants and
// checks that no step is ever handed to two of them.
func TestClaimNextConcurrent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// A wide plan: one root, many independent leaves.
	reg := &types.PlanRegistration{ID: "wide", Steps: []types.StepRegistration{
		{Anchor: "root", Title: "Root"},
	}}
	for i := 1; i <= 12; i++ {
		reg.Steps = append(reg.Steps, types.StepRegistration{
			Anchor:    fmt.Sprintf("leaf-%02d", i),
			Title:     fmt.Sprintf("Leaf %d", i),
			DependsOn: []string{"root"},
		})
	}
	require.NoError(t, eng.RegisterPlan(ctx, reg, "test"))

	res, err := eng.ClaimNext(ctx, "wide", "ws-root", testLease)
	require.NoError(t, err)
	finishStep(t, eng, "wide", res.Step.Anchor, "ws-root")

	var mu sync.Mutex
	claimedBy := make(map[string]string)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		claimant := fmt.Sprintf("ws-%02d", i)
		g.Go(func() error {
			r, err := eng.ClaimNext(ctx, "wide", claimant, testLease)
			if err != nil {
				return err
			}
			if r.Outcome != OutcomeClaimed {
				return fmt.Errorf("claimant %s got outcome %s", claimant, r.Outcome)
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := claimedBy[r.Step.Anchor]; dup {
				return fmt.Errorf("step %s claimed by both %s and %s", r.Step.Anchor, prev, claimant)
			}
			claimedBy[r.Step.Anchor] = claimant
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, claimedBy, 12)
}

// TestClaimNextDrainsRandomDAG races several claimants over a randomly
// wired plan until it finishes: every step must be claimed exactly once
// and the plan must end done with all steps completed.
func TestClaimNextDrainsRandomDAG(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Edges only point at earlier anchors, so the graph is acyclic by
	// construction whatever the seed draws.
	rng := rand.New(rand.NewSource(7))
	const stepCount = 24
	reg := &types.PlanRegistration{ID: "dag", BaseRev: "rev-1"}
	anchors := make([]string, stepCount)
	for i := 0; i < stepCount; i++ {
		anchors[i] = fmt.Sprintf("n%02d", i+1)
		sr := types.StepRegistration{Anchor: anchors[i], Title: fmt.Sprintf("Node %d", i+1)}
		for j := 0; j < i; j++ {
			if rng.Intn(4) == 0 {
				sr.DependsOn = append(sr.DependsOn, anchors[j])
			}
		}
		reg.Steps = append(reg.Steps, sr)
	}
	require.NoError(t, eng.RegisterPlan(ctx, reg, "test"))

	var mu sync.Mutex
	claimedBy := make(map[string]string)

	var g errgroup.Group
	for w := 0; w < 6; w++ {
		claimant := fmt.Sprintf("ws-%02d", w)
		g.Go(func() error {
			for {
				res, err := eng.ClaimNext(ctx, "dag", claimant, testLease)
				if err != nil {
					return err
				}
				switch res.Outcome {
				case OutcomeClaimed:
					anchor := res.Step.Anchor
					mu.Lock()
					prev, dup := claimedBy[anchor]
					if !dup {
						claimedBy[anchor] = claimant
					}
					mu.Unlock()
					if dup {
						return fmt.Errorf("step %s claimed by both %s and %s", anchor, prev, claimant)
					}
					if _, err := eng.UpdateItems(ctx, "dag", anchor, claimant, nil, true); err != nil {
						return err
					}
					if _, err := eng.CompleteStep(ctx, "dag", anchor, claimant, "", false, ""); err != nil {
						return err
					}
				case OutcomeNoStepReady:
					time.Sleep(time.Millisecond)
				case OutcomePlanComplete:
					return nil
				default:
					return fmt.Errorf("claimant %s got outcome %s", claimant, res.Outcome)
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, claimedBy, stepCount)

	status, err := eng.Status(ctx, "dag")
	require.NoError(t, err)
	require.Equal(t, types.PlanDone, status.Plan.Status)
	for _, sv := range status.Steps {
		require.Equal(t, types.StepCompleted, sv.Step.Status)
	}
}

func TestRenewLease(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerDiamond(t, eng, "p")

	res, err := eng.ClaimNext(ctx, "p", "ws-a", time.Minute)
	require.NoError(t, err)
	before := *res.Step.LeaseExpiresAt

	require.NoError(t, eng.RenewLease(ctx, "p", "s1", "ws-a", time.Hour))
	step, err := eng.Status(ctx, "p")
	require.NoError(t, err)
	require.True(t, step.Steps[0].Step.LeaseExpiresAt.After(before))

	// Only the holder renews.
	err = eng.RenewLease(ctx, "p", "s1", "ws-b", time.Hour)
	require.ErrorIs(t, err, ErrNotClaimed)

	// Unclaimed steps have no lease to renew.
	err = eng.RenewLease(ctx, "p", "s2", "ws-a", time.Hour)
	require.ErrorIs(t, err, ErrNotClaimed)
}
