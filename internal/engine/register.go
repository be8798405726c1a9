package engine

import (
	"context"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// RegisterPlan validates and atomically persists a plan registration.
// Malformed input is rejected with a *types.ValidationError naming the
// offending step or item; nothing is written in that case.
func (e *Engine) RegisterPlan(ctx context.Context, reg *types.PlanRegistration, actor string) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.RegisterPlan(ctx, reg); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, &types.Event{
			PlanID:   reg.ID,
			Type:     types.EventRegistered,
			Actor:    actor,
			NewValue: string(types.PlanActive),
		})
	})
	if err != nil {
		return err
	}

	e.log.WithFields(map[string]interface{}{
		"plan":  reg.ID,
		"steps": len(reg.Steps),
	}).Info("plan registered")
	return nil
}

// PrunePlan removes a finished plan and everything under it. Active
// plans are refused with storage.ErrPlanActive.
func (e *Engine) PrunePlan(ctx context.Context, planID, actor string) error {
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		plan, err := tx.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status != types.PlanDone {
			return storage.ErrPlanActive
		}
		return tx.DeletePlan(ctx, planID)
	})
	if err != nil {
		return err
	}
	e.log.WithFields(map[string]interface{}{"plan": planID, "actor": actor}).Info("plan pruned")
	return nil
}
