package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// ClaimOutcome distinguishes the non-error results of ClaimNext. Only
// OutcomeClaimed carries a step; the others are caller diagnostics, not
// failures.
type ClaimOutcome string

const (
	// OutcomeClaimed: a step was claimed (or the caller already held one
	// in this plan, which is returned again).
	OutcomeClaimed ClaimOutcome = "claimed"
	// OutcomeNoStepReady: nothing is ready, but other claimants hold
	// steps whose completion will unblock more work. Poll again later.
	OutcomeNoStepReady ClaimOutcome = "no_step_ready"
	// OutcomePlanBlocked: pending steps exist, none are ready, and no
	// step is in flight. The plan cannot progress without intervention.
	OutcomePlanBlocked ClaimOutcome = "plan_blocked"
	// OutcomePlanComplete: no pending steps remain and nothing is in
	// flight.
	OutcomePlanComplete ClaimOutcome = "plan_complete"
)

// ClaimResult is the outcome of one ClaimNext call.
type ClaimResult struct {
	Outcome ClaimOutcome `json:"outcome"`
	Step    *types.Step  `json:"step,omitempty"`
}

// ClaimNext atomically claims the lowest-anchor ready step for claimant
// and grants a lease of the given duration.
//
// The selection and the guarded status update run in one serializable
// transaction; if the conditional update loses a race the selection
// restarts inside the same transaction, so no two claimants ever
// receive the same step. A claimant already holding an unfinished step
// of this plan gets that step back instead of a second one.
func (e *Engine) ClaimNext(ctx context.Context, planID, claimant string, lease time.Duration) (*ClaimResult, error) {
	if claimant == "" {
		return nil, fmt.Errorf("claimant identity is required")
	}
	if lease <= 0 {
		return nil, fmt.Errorf("lease duration must be positive, got %s", lease)
	}

	var result *ClaimResult
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.GetPlan(ctx, planID); err != nil {
			return err
		}

		steps, err := tx.ListSteps(ctx, planID)
		if err != nil {
			return err
		}

		// One step per claimant per plan: re-claiming while holding an
		// unfinished step hands the held step back (idempotent resume
		// after a crash that lost the original response).
		for _, s := range steps {
			if s.Claimant == claimant && (s.Status == types.StepClaimed || s.Status == types.StepInProgress) {
				result = &ClaimResult{Outcome: OutcomeClaimed, Step: s}
				return nil
			}
		}

		for {
			ready, err := tx.ReadySteps(ctx, planID)
			if err != nil {
				return err
			}
			if len(ready) == 0 {
				outcome, err := diagnoseEmptyReadySet(ctx, tx, planID)
				if err != nil {
					return err
				}
				result = &ClaimResult{Outcome: outcome}
				return nil
			}

			anchor := ready[0]
			ok, err := tx.ClaimStep(ctx, planID, anchor, claimant, time.Now().Add(lease))
			if err != nil {
				return err
			}
			if !ok {
				// A concurrent claimant won this anchor between snapshot
				// and update. Recompute and try the next candidate.
				continue
			}

			if err := tx.InsertEvent(ctx, &types.Event{
				PlanID:     planID,
				StepAnchor: anchor,
				Type:       types.EventClaimed,
				Actor:      claimant,
				OldValue:   string(types.StepPending),
				NewValue:   string(types.StepClaimed),
			}); err != nil {
				return err
			}

			step, err := tx.GetStep(ctx, planID, anchor)
			if err != nil {
				return err
			}
			result = &ClaimResult{Outcome: OutcomeClaimed, Step: step}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeClaimed {
		e.metrics.claims.Add(ctx, 1)
		e.log.WithFields(map[string]interface{}{
			"plan":     planID,
			"step":     result.Step.Anchor,
			"claimant": claimant,
			"lease":    lease.String(),
		}).Info("step claimed")
	}
	return result, nil
}

// diagnoseEmptyReadySet tells the caller why nothing was claimable:
// finished, temporarily drained, or genuinely stuck.
func diagnoseEmptyReadySet(ctx context.Context, tx storage.Transaction, planID string) (ClaimOutcome, error) {
	steps, err := tx.ListSteps(ctx, planID)
	if err != nil {
		return "", err
	}
	pending, inflight := 0, 0
	for _, s := range steps {
		switch s.Status {
		case types.StepPending:
			pending++
		case types.StepClaimed, types.StepInProgress:
			inflight++
		}
	}
	switch {
	case inflight > 0:
		return OutcomeNoStepReady, nil
	case pending > 0:
		return OutcomePlanBlocked, nil
	default:
		return OutcomePlanComplete, nil
	}
}

// ReadySteps returns the anchors currently claimable for the plan, in
// ascending anchor order. Pure read on a consistent snapshot.
func (e *Engine) ReadySteps(ctx context.Context, planID string) ([]string, error) {
	if _, err := e.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.store.ReadySteps(ctx, planID)
}

// RenewLease extends the caller's lease on a held step. Leases are never
// extended implicitly by other writes; this is the only renewal path.
func (e *Engine) RenewLease(ctx context.Context, planID, anchor, claimant string, lease time.Duration) error {
	if lease <= 0 {
		return fmt.Errorf("lease duration must be positive, got %s", lease)
	}
	return e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		ok, err := tx.RenewLease(ctx, planID, anchor, claimant, time.Now().Add(lease))
		if err != nil {
			return err
		}
		if !ok {
			step, err := tx.GetStep(ctx, planID, anchor)
			if err != nil {
				return err
			}
			return fmt.Errorf("renew %s/%s held by %q: %w", planID, anchor, step.Claimant, ErrNotClaimed)
		}
		return tx.InsertEvent(ctx, &types.Event{
			PlanID:     planID,
			StepAnchor: anchor,
			Type:       types.EventRenewed,
			Actor:      claimant,
		})
	})
}
