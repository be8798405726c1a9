package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/types"
)

func listItems(ctx context.Context, q dbtx, planID, anchor string) ([]*types.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT plan_id, step_anchor, kind, ordinal, text, status, reason, reconcile_reason, updated_at
		 FROM checklist_items WHERE plan_id = ? AND step_anchor = ?
		 ORDER BY CASE kind WHEN 'task' THEN 0 WHEN 'test' THEN 1 ELSE 2 END, ordinal ASC`,
		planID, anchor)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("list items %s/%s", planID, anchor), err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.ChecklistItem
	for rows.Next() {
		var it types.ChecklistItem
		if err := rows.Scan(&it.PlanID, &it.StepAnchor, &it.Kind, &it.Ordinal, &it.Text,
			&it.Status, &it.Reason, &it.ReconcileReason, &it.UpdatedAt); err != nil {
			return nil, wrapDBError(fmt.Sprintf("scan item %s/%s", planID, anchor), err)
		}
		items = append(items, &it)
	}
	return items, wrapDBError(fmt.Sprintf("list items %s/%s", planID, anchor), rows.Err())
}

// setItemStatus updates one registered item. A false return means the
// (kind, ordinal) pair was never registered for this step; the caller
// turns that into an unknown-item rejection, never a silent drop.
func setItemStatus(ctx context.Context, q dbtx, planID, anchor string, kind types.ItemKind, ordinal int, status types.ItemStatus, reason string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE checklist_items SET status = ?, reason = ?, updated_at = ?
		 WHERE plan_id = ? AND step_anchor = ? AND kind = ? AND ordinal = ?`,
		status, reason, time.Now().UTC(), planID, anchor, kind, ordinal)
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("set item %s/%s %s:%d", planID, anchor, kind, ordinal), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("set item %s/%s %s:%d", planID, anchor, kind, ordinal), err)
	}
	return n == 1, nil
}

// completeRemaining closes every still-unresolved item of the step,
// except the excluded (kind, ordinal) pairs, and returns the affected
// refs for the caller's result report. The exclusions are the items the
// caller addressed explicitly in the same batch; the sweep must never
// override an explicit status.
func completeRemaining(ctx context.Context, q dbtx, planID, anchor string, exclude []types.ItemKey) ([]string, error) {
	filter := ""
	filterArgs := make([]interface{}, 0, 2*len(exclude))
	for _, k := range exclude {
		filter += ` AND NOT (kind = ? AND ordinal = ?)`
		filterArgs = append(filterArgs, k.Kind, k.Ordinal)
	}

	selArgs := append([]interface{}{planID, anchor, types.ItemOpen, types.ItemInProgress}, filterArgs...)
	rows, err := q.QueryContext(ctx,
		`SELECT kind, ordinal FROM checklist_items
		 WHERE plan_id = ? AND step_anchor = ? AND status IN (?, ?)`+filter+
			` ORDER BY CASE kind WHEN 'task' THEN 0 WHEN 'test' THEN 1 ELSE 2 END, ordinal ASC`,
		selArgs...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("find remaining items %s/%s", planID, anchor), err)
	}
	var refs []string
	for rows.Next() {
		var kind types.ItemKind
		var ordinal int
		if err := rows.Scan(&kind, &ordinal); err != nil {
			_ = rows.Close()
			return nil, wrapDBError(fmt.Sprintf("scan remaining item %s/%s", planID, anchor), err)
		}
		refs = append(refs, fmt.Sprintf("%s:%d", kind, ordinal))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapDBError(fmt.Sprintf("find remaining items %s/%s", planID, anchor), err)
	}
	_ = rows.Close()

	if len(refs) == 0 {
		return nil, nil
	}
	updArgs := append([]interface{}{types.ItemCompleted, time.Now().UTC(), planID, anchor, types.ItemOpen, types.ItemInProgress}, filterArgs...)
	_, err = q.ExecContext(ctx,
		`UPDATE checklist_items SET status = ?, reason = '', updated_at = ?
		 WHERE plan_id = ? AND step_anchor = ? AND status IN (?, ?)`+filter,
		updArgs...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("complete remaining items %s/%s", planID, anchor), err)
	}
	return refs, nil
}

func setItemText(ctx context.Context, q dbtx, planID, anchor string, kind types.ItemKind, ordinal int, text, reason string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE checklist_items SET text = ?, reconcile_reason = ?, updated_at = ?
		 WHERE plan_id = ? AND step_anchor = ? AND kind = ? AND ordinal = ?`,
		text, reason, time.Now().UTC(), planID, anchor, kind, ordinal)
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("set item text %s/%s %s:%d", planID, anchor, kind, ordinal), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("set item text %s/%s %s:%d", planID, anchor, kind, ordinal), err)
	}
	return n == 1, nil
}

// replaceItems force-aligns the step's checklist to target. Surviving
// (kind, ordinal) pairs keep their status and deferral reason; added
// pairs start open; removed pairs are deleted. Every surviving or added
// row records the reconciliation reason.
func replaceItems(ctx context.Context, q dbtx, planID, anchor string, target []types.ItemRegistration, reason string) error {
	existing, err := listItems(ctx, q, planID, anchor)
	if err != nil {
		return err
	}
	type key struct {
		kind    types.ItemKind
		ordinal int
	}
	old := make(map[key]*types.ChecklistItem, len(existing))
	for _, it := range existing {
		old[key{it.Kind, it.Ordinal}] = it
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM checklist_items WHERE plan_id = ? AND step_anchor = ?`,
		planID, anchor); err != nil {
		return wrapDBError(fmt.Sprintf("clear items %s/%s", planID, anchor), err)
	}

	now := time.Now().UTC()
	for _, it := range target {
		status := types.ItemOpen
		itemReason := ""
		if prev, ok := old[key{it.Kind, it.Ordinal}]; ok {
			status = prev.Status
			itemReason = prev.Reason
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO checklist_items (plan_id, step_anchor, kind, ordinal, text, status, reason, reconcile_reason, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			planID, anchor, it.Kind, it.Ordinal, it.Text, status, itemReason, reason, now); err != nil {
			return wrapDBError(fmt.Sprintf("insert item %s/%s %s:%d", planID, anchor, it.Kind, it.Ordinal), err)
		}
	}
	return nil
}

// Store wrappers.

func (s *Store) ListItems(ctx context.Context, planID, anchor string) ([]*types.ChecklistItem, error) {
	return listItems(ctx, s.db, planID, anchor)
}

// Transaction wrappers.

func (t *txStore) ListItems(ctx context.Context, planID, anchor string) ([]*types.ChecklistItem, error) {
	return listItems(ctx, t.conn, planID, anchor)
}

func (t *txStore) SetItemStatus(ctx context.Context, planID, anchor string, kind types.ItemKind, ordinal int, status types.ItemStatus, reason string) (bool, error) {
	return setItemStatus(ctx, t.conn, planID, anchor, kind, ordinal, status, reason)
}

func (t *txStore) CompleteRemaining(ctx context.Context, planID, anchor string, exclude []types.ItemKey) ([]string, error) {
	return completeRemaining(ctx, t.conn, planID, anchor, exclude)
}

func (t *txStore) SetItemText(ctx context.Context, planID, anchor string, kind types.ItemKind, ordinal int, text, reason string) (bool, error) {
	return setItemText(ctx, t.conn, planID, anchor, kind, ordinal, text, reason)
}

func (t *txStore) ReplaceItems(ctx context.Context, planID, anchor string, target []types.ItemRegistration, reason string) error {
	return replaceItems(ctx, t.conn, planID, anchor, target, reason)
}
