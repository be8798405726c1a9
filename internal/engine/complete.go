package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// IncompleteError is the soft failure of the completion gate: the step
// cannot complete because these exact items are still open or
// in_progress. Callers recover by doing more work, deferring the items
// explicitly, or forcing with a reason.
type IncompleteError struct {
	Plan  string
	Step  string
	Items []*types.ChecklistItem
}

func (e *IncompleteError) Error() string {
	refs := make([]string, len(e.Items))
	for i, it := range e.Items {
		refs[i] = it.Ref()
	}
	return fmt.Sprintf("step %s/%s has %d unresolved checklist items: %s",
		e.Plan, e.Step, len(e.Items), strings.Join(refs, ", "))
}

// CompleteResult reports a successful step completion.
type CompleteResult struct {
	Step        *types.Step `json:"step"`
	ForcedItems []string    `json:"forced_items,omitempty"`
	PlanDone    bool        `json:"plan_done,omitempty"`
}

// CompleteStep closes a step the caller holds.
//
// The gate: every checklist item must be completed or deferred, and the
// step must be claimed or in_progress by this claimant (claimed counts
// as an implicit begin). With force, a mandatory reason completes the
// step anyway and force-completes the unresolved items with the same
// reason, so the ledger never contradicts the step's terminal status.
// On success the evidence and completion time are recorded and the
// lease is released; completing the last step marks the plan done.
func (e *Engine) CompleteStep(ctx context.Context, planID, anchor, claimant, evidence string, force bool, forceReason string) (*CompleteResult, error) {
	if force && forceReason == "" {
		return nil, fmt.Errorf("force-complete %s/%s: %w", planID, anchor, ErrReasonRequired)
	}

	var result *CompleteResult
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		step, err := tx.GetStep(ctx, planID, anchor)
		if err != nil {
			return err
		}
		if step.Status == types.StepCompleted {
			return fmt.Errorf("complete %s/%s: %w", planID, anchor, ErrAlreadyCompleted)
		}
		if step.Claimant != claimant || (step.Status != types.StepClaimed && step.Status != types.StepInProgress) {
			return fmt.Errorf("complete %s/%s (held by %q): %w", planID, anchor, step.Claimant, ErrNotClaimed)
		}

		r, err := completeHeldStep(ctx, tx, step, claimant, evidence, force, false, forceReason)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.completions.Add(ctx, 1)
	e.log.WithFields(map[string]interface{}{
		"plan":     planID,
		"step":     anchor,
		"claimant": claimant,
		"forced":   force,
		"planDone": result.PlanDone,
	}).Info("step completed")
	return result, nil
}

// ForceCompleteStep is the out-of-band administrative jump: any
// non-completed step goes straight to completed, regardless of claimant
// or checklist state, with a mandatory reason. It is logged as a
// distinct force_complete event and is not part of normal flow.
func (e *Engine) ForceCompleteStep(ctx context.Context, planID, anchor, actor, evidence, reason string) (*CompleteResult, error) {
	if reason == "" {
		return nil, fmt.Errorf("force-complete %s/%s: %w", planID, anchor, ErrReasonRequired)
	}

	var result *CompleteResult
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		step, err := tx.GetStep(ctx, planID, anchor)
		if err != nil {
			return err
		}
		if step.Status == types.StepCompleted {
			return fmt.Errorf("force-complete %s/%s: %w", planID, anchor, ErrAlreadyCompleted)
		}
		r, err := completeHeldStep(ctx, tx, step, actor, evidence, true, true, reason)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.forced.Add(ctx, 1)
	e.log.WithFields(map[string]interface{}{
		"plan":   planID,
		"step":   anchor,
		"actor":  actor,
		"reason": reason,
	}).Warn("step force-completed")
	return result, nil
}

// completeHeldStep runs the shared gate + terminal transition. The
// caller has already authorized the actor; force implies a non-empty
// reason.
func completeHeldStep(ctx context.Context, tx storage.Transaction, step *types.Step, actor, evidence string, force, admin bool, forceReason string) (*CompleteResult, error) {
	planID, anchor := step.PlanID, step.Anchor

	items, err := tx.ListItems(ctx, planID, anchor)
	if err != nil {
		return nil, err
	}
	var unresolved []*types.ChecklistItem
	for _, it := range items {
		if !it.Status.Resolved() {
			unresolved = append(unresolved, it)
		}
	}

	result := &CompleteResult{}
	if len(unresolved) > 0 {
		if !force {
			return nil, &IncompleteError{Plan: planID, Step: anchor, Items: unresolved}
		}
		for _, it := range unresolved {
			ok, err := tx.SetItemStatus(ctx, planID, anchor, it.Kind, it.Ordinal, types.ItemCompleted, forceReason)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("force-complete item %s/%s %s: %w", planID, anchor, it.Ref(), storage.ErrNotFound)
			}
			result.ForcedItems = append(result.ForcedItems, it.Ref())
		}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":           types.StepCompleted,
		"claimant":         nil,
		"lease_expires_at": nil,
		"completed_at":     now,
		"evidence":         evidence,
	}
	if step.StartedAt == nil {
		updates["started_at"] = now
	}
	if force && forceReason != "" {
		updates["force_reason"] = forceReason
	}
	if err := tx.UpdateStep(ctx, planID, anchor, updates); err != nil {
		return nil, err
	}

	eventType := types.EventCompleted
	if admin || len(result.ForcedItems) > 0 {
		eventType = types.EventForceComplete
	}
	if err := tx.InsertEvent(ctx, &types.Event{
		PlanID:     planID,
		StepAnchor: anchor,
		Type:       eventType,
		Actor:      actor,
		OldValue:   string(step.Status),
		NewValue:   string(types.StepCompleted),
		Reason:     forceReason,
	}); err != nil {
		return nil, err
	}

	// Last step closed: the plan is done.
	steps, err := tx.ListSteps(ctx, planID)
	if err != nil {
		return nil, err
	}
	done := true
	for _, s := range steps {
		if s.Anchor != anchor && s.Status != types.StepCompleted {
			done = false
			break
		}
	}
	if done {
		if err := tx.SetPlanStatus(ctx, planID, types.PlanDone); err != nil {
			return nil, err
		}
		result.PlanDone = true
	}

	completed, err := tx.GetStep(ctx, planID, anchor)
	if err != nil {
		return nil, err
	}
	result.Step = completed
	return result, nil
}
