package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// MismatchType classifies one drift finding.
type MismatchType string

const (
	// MismatchAdded: the plan text now has an item the ledger never
	// registered.
	MismatchAdded MismatchType = "added"
	// MismatchRemoved: the ledger has an item the plan text no longer
	// contains.
	MismatchRemoved MismatchType = "removed"
	// MismatchChanged: same (kind, ordinal), different text.
	MismatchChanged MismatchType = "changed"
)

// Mismatch is one divergence between the stored checklist and the
// authoritative plan text.
type Mismatch struct {
	Step       string         `json:"step"`
	Kind       types.ItemKind `json:"kind"`
	Ordinal    int            `json:"ordinal"`
	Type       MismatchType   `json:"type"`
	StoredText string         `json:"stored_text,omitempty"`
	PlanText   string         `json:"plan_text,omitempty"`
}

// CheckDrift compares the stored checklists against a freshly supplied
// authoritative set and reports every divergence. It mutates nothing:
// drift is surfaced, never auto-resolved, because resolving it silently
// could hide a real upstream error.
func (e *Engine) CheckDrift(ctx context.Context, planID string, authoritative []types.StepChecklist) ([]Mismatch, error) {
	if _, err := e.store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	type key struct {
		kind    types.ItemKind
		ordinal int
	}

	var mismatches []Mismatch
	seen := make(map[string]bool, len(authoritative))
	for _, auth := range authoritative {
		seen[auth.Anchor] = true
		stored, err := e.store.ListItems(ctx, planID, auth.Anchor)
		if err != nil {
			return nil, err
		}

		storedBy := make(map[key]*types.ChecklistItem, len(stored))
		for _, it := range stored {
			storedBy[key{it.Kind, it.Ordinal}] = it
		}
		authBy := make(map[key]types.ItemRegistration, len(auth.Items))
		for _, it := range auth.Items {
			authBy[key{it.Kind, it.Ordinal}] = it
		}

		for _, it := range auth.Items {
			prev, ok := storedBy[key{it.Kind, it.Ordinal}]
			switch {
			case !ok:
				mismatches = append(mismatches, Mismatch{
					Step: auth.Anchor, Kind: it.Kind, Ordinal: it.Ordinal,
					Type: MismatchAdded, PlanText: it.Text,
				})
			case prev.Text != it.Text:
				mismatches = append(mismatches, Mismatch{
					Step: auth.Anchor, Kind: it.Kind, Ordinal: it.Ordinal,
					Type: MismatchChanged, StoredText: prev.Text, PlanText: it.Text,
				})
			}
		}
		for _, it := range stored {
			if _, ok := authBy[key{it.Kind, it.Ordinal}]; !ok {
				mismatches = append(mismatches, Mismatch{
					Step: it.StepAnchor, Kind: it.Kind, Ordinal: it.Ordinal,
					Type: MismatchRemoved, StoredText: it.Text,
				})
			}
		}
	}

	// Ledger steps the authoritative set dropped entirely.
	steps, err := e.store.ListSteps(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if seen[s.Anchor] {
			continue
		}
		stored, err := e.store.ListItems(ctx, planID, s.Anchor)
		if err != nil {
			return nil, err
		}
		for _, it := range stored {
			mismatches = append(mismatches, Mismatch{
				Step: it.StepAnchor, Kind: it.Kind, Ordinal: it.Ordinal,
				Type: MismatchRemoved, StoredText: it.Text,
			})
		}
	}

	sort.Slice(mismatches, func(i, j int) bool {
		a, b := mismatches[i], mismatches[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Ordinal < b.Ordinal
	})
	return mismatches, nil
}

// ReconcileMode selects how far Reconcile may go.
type ReconcileMode string

const (
	// ReconcileAlignText rewrites stored item texts to match the target
	// for (kind, ordinal) pairs present on both sides. Statuses and the
	// item set are untouched.
	ReconcileAlignText ReconcileMode = "align-text"
	// ReconcileReplace force-aligns the item set to the target,
	// preserving status and deferral reason of surviving pairs.
	ReconcileReplace ReconcileMode = "replace"
)

// IsValid returns true for a recognized mode.
func (m ReconcileMode) IsValid() bool {
	return m == ReconcileAlignText || m == ReconcileReplace
}

// ReconcileResult reports what a reconciliation touched.
type ReconcileResult struct {
	Mode    ReconcileMode `json:"mode"`
	Changed []string      `json:"changed,omitempty"`
}

// Reconcile is the manual, audited recovery operation for confirmed
// drift. It force-aligns the step's ledger to a known-good target and
// persists the operator's reason on every affected row and in the audit
// trail. It is not routine flow; CheckDrift first.
func (e *Engine) Reconcile(ctx context.Context, planID, anchor string, mode ReconcileMode, reason string, target types.StepChecklist) (*ReconcileResult, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("reconcile %s/%s: unknown mode %q", planID, anchor, mode)
	}
	if reason == "" {
		return nil, fmt.Errorf("reconcile %s/%s: %w", planID, anchor, ErrReasonRequired)
	}

	result := &ReconcileResult{Mode: mode}
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.GetStep(ctx, planID, anchor); err != nil {
			return err
		}

		switch mode {
		case ReconcileAlignText:
			stored, err := tx.ListItems(ctx, planID, anchor)
			if err != nil {
				return err
			}
			type key struct {
				kind    types.ItemKind
				ordinal int
			}
			storedBy := make(map[key]*types.ChecklistItem, len(stored))
			for _, it := range stored {
				storedBy[key{it.Kind, it.Ordinal}] = it
			}
			for _, it := range target.Items {
				prev, ok := storedBy[key{it.Kind, it.Ordinal}]
				if !ok || prev.Text == it.Text {
					continue
				}
				if _, err := tx.SetItemText(ctx, planID, anchor, it.Kind, it.Ordinal, it.Text, reason); err != nil {
					return err
				}
				result.Changed = append(result.Changed, fmt.Sprintf("%s:%d", it.Kind, it.Ordinal))
			}

		case ReconcileReplace:
			if err := tx.ReplaceItems(ctx, planID, anchor, target.Items, reason); err != nil {
				return err
			}
			for _, it := range target.Items {
				result.Changed = append(result.Changed, fmt.Sprintf("%s:%d", it.Kind, it.Ordinal))
			}
		}

		return tx.InsertEvent(ctx, &types.Event{
			PlanID:        planID,
			StepAnchor:    anchor,
			Type:          types.EventReconciled,
			Actor:         "operator",
			NewValue:      string(mode),
			Reason:        reason,
			CorrelationID: uuid.NewString(),
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(map[string]interface{}{
		"plan":    planID,
		"step":    anchor,
		"mode":    mode,
		"changed": len(result.Changed),
		"reason":  reason,
	}).Warn("checklist reconciled")
	return result, nil
}
