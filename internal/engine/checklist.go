package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// ItemUpdate is one explicit checklist status change.
type ItemUpdate struct {
	Kind    types.ItemKind   `json:"kind"`
	Ordinal int              `json:"ordinal"`
	Status  types.ItemStatus `json:"status"`
	Reason  string           `json:"reason,omitempty"`
}

// Ref returns the update's (kind, ordinal) identity, e.g. "test:2".
func (u ItemUpdate) Ref() string {
	return fmt.Sprintf("%s:%d", u.Kind, u.Ordinal)
}

// UpdateResult reports what one UpdateItems call changed.
type UpdateResult struct {
	Updated []string `json:"updated"`         // refs set exactly as requested
	Swept   []string `json:"swept,omitempty"` // refs auto-completed by the complete-remaining flag
	Began   bool     `json:"began,omitempty"` // step moved claimed -> in_progress
}

// UnknownItemError rejects a (kind, ordinal) pair that was never
// registered for the step. This is the structural defense against
// caller-side miscounting: an unknown ref fails the whole batch instead
// of being silently ignored.
type UnknownItemError struct {
	Plan    string
	Step    string
	Kind    types.ItemKind
	Ordinal int
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("step %s/%s has no checklist item %s:%d", e.Plan, e.Step, e.Kind, e.Ordinal)
}

// UpdateItems applies a batch of checklist status changes for a step the
// caller holds, atomically.
//
// Every listed (kind, ordinal) must exist; deferred updates require a
// non-empty reason and no other status may carry one. When
// completeRemaining is set, every item not listed and still open or
// in_progress is marked completed after the explicit list is applied:
// "everything except these exceptions is done". Partial application
// never occurs; any rejection rolls back the whole batch.
func (e *Engine) UpdateItems(ctx context.Context, planID, anchor, claimant string, updates []ItemUpdate, completeRemaining bool) (*UpdateResult, error) {
	for _, u := range updates {
		if !u.Kind.IsValid() {
			return nil, &types.ValidationError{Plan: planID, Step: anchor, Kind: u.Kind, Ordinal: u.Ordinal, Msg: "unknown item kind"}
		}
		if !u.Status.IsValid() {
			return nil, &types.ValidationError{Plan: planID, Step: anchor, Kind: u.Kind, Ordinal: u.Ordinal, Msg: fmt.Sprintf("invalid status %q", u.Status)}
		}
		if u.Status == types.ItemDeferred && u.Reason == "" {
			return nil, &types.ValidationError{Plan: planID, Step: anchor, Kind: u.Kind, Ordinal: u.Ordinal, Msg: "deferred items require a reason"}
		}
		if u.Status != types.ItemDeferred && u.Reason != "" {
			return nil, &types.ValidationError{Plan: planID, Step: anchor, Kind: u.Kind, Ordinal: u.Ordinal, Msg: fmt.Sprintf("status %q must not carry a reason", u.Status)}
		}
	}

	result := &UpdateResult{}
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		step, err := tx.GetStep(ctx, planID, anchor)
		if err != nil {
			return err
		}
		if step.Status == types.StepCompleted {
			return fmt.Errorf("update items %s/%s: %w", planID, anchor, ErrAlreadyCompleted)
		}
		if step.Claimant != claimant || (step.Status != types.StepClaimed && step.Status != types.StepInProgress) {
			return fmt.Errorf("update items %s/%s (held by %q): %w", planID, anchor, step.Claimant, ErrNotClaimed)
		}

		for _, u := range updates {
			ok, err := tx.SetItemStatus(ctx, planID, anchor, u.Kind, u.Ordinal, u.Status, u.Reason)
			if err != nil {
				return err
			}
			if !ok {
				return &UnknownItemError{Plan: planID, Step: anchor, Kind: u.Kind, Ordinal: u.Ordinal}
			}
			result.Updated = append(result.Updated, u.Ref())
		}

		if completeRemaining {
			// Items the caller addressed explicitly keep their explicit
			// status; the sweep covers only the unmentioned rest.
			exclude := make([]types.ItemKey, len(updates))
			for i, u := range updates {
				exclude[i] = types.ItemKey{Kind: u.Kind, Ordinal: u.Ordinal}
			}
			swept, err := tx.CompleteRemaining(ctx, planID, anchor, exclude)
			if err != nil {
				return err
			}
			result.Swept = swept
		}

		// First ledger write is the implicit begin.
		if step.Status == types.StepClaimed {
			now := time.Now().UTC()
			if err := tx.UpdateStep(ctx, planID, anchor, map[string]interface{}{
				"status":     types.StepInProgress,
				"started_at": now,
			}); err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, &types.Event{
				PlanID:     planID,
				StepAnchor: anchor,
				Type:       types.EventBegan,
				Actor:      claimant,
				OldValue:   string(types.StepClaimed),
				NewValue:   string(types.StepInProgress),
			}); err != nil {
				return err
			}
			result.Began = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(map[string]interface{}{
		"plan":     planID,
		"step":     anchor,
		"claimant": claimant,
		"updated":  len(result.Updated),
		"swept":    len(result.Swept),
	}).Debug("checklist updated")
	return result, nil
}
