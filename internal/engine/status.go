package engine

import (
	"context"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// Status returns the read surface progress displays build on: the plan
// and its steps in anchor order, each with claimant, lease expiry, and
// per-kind checklist counts. All rows are read inside one transaction so
// the snapshot never mixes state from across a concurrent commit.
func (e *Engine) Status(ctx context.Context, planID string) (*types.PlanStatus, error) {
	var status *types.PlanStatus
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		plan, err := tx.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, planID)
		if err != nil {
			return err
		}

		status = &types.PlanStatus{Plan: *plan}
		for _, s := range steps {
			items, err := tx.ListItems(ctx, planID, s.Anchor)
			if err != nil {
				return err
			}
			counts := make(map[types.ItemKind]types.ItemCounts, len(types.Kinds))
			for _, it := range items {
				c := counts[it.Kind]
				c.Total++
				switch it.Status {
				case types.ItemCompleted:
					c.Completed++
				case types.ItemDeferred:
					c.Deferred++
				case types.ItemInProgress:
					c.InProgress++
				case types.ItemOpen:
					c.Open++
				}
				counts[it.Kind] = c
			}
			status.Steps = append(status.Steps, types.StepView{Step: *s, Counts: counts})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ListPlans returns every plan in the store in id order.
func (e *Engine) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	return e.store.ListPlans(ctx)
}

// Events returns the plan's audit trail, newest first.
func (e *Engine) Events(ctx context.Context, planID string, limit int) ([]*types.Event, error) {
	if _, err := e.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.store.Events(ctx, planID, limit)
}

// Items returns the checklist rows for one step.
func (e *Engine) Items(ctx context.Context, planID, anchor string) ([]*types.ChecklistItem, error) {
	if _, err := e.store.GetStep(ctx, planID, anchor); err != nil {
		return nil, err
	}
	return e.store.ListItems(ctx, planID, anchor)
}
