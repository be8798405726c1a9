package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

func getPlan(ctx context.Context, q dbtx, planID string) (*types.Plan, error) {
	var p types.Plan
	err := q.QueryRowContext(ctx,
		`SELECT id, status, base_rev, created_at, updated_at FROM plans WHERE id = ?`,
		planID).Scan(&p.ID, &p.Status, &p.BaseRev, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get plan %s", planID), err)
	}
	return &p, nil
}

func listPlans(ctx context.Context, q dbtx) ([]*types.Plan, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, status, base_rev, created_at, updated_at FROM plans ORDER BY id ASC`)
	if err != nil {
		return nil, wrapDBError("list plans", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*types.Plan
	for rows.Next() {
		var p types.Plan
		if err := rows.Scan(&p.ID, &p.Status, &p.BaseRev, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrapDBError("scan plan", err)
		}
		plans = append(plans, &p)
	}
	return plans, wrapDBError("list plans", rows.Err())
}

// registerPlan persists a validated registration. The caller (engine)
// has already run PlanRegistration.Validate; the UNIQUE check on the
// plan id is the only validation repeated here.
func registerPlan(ctx context.Context, q dbtx, reg *types.PlanRegistration) error {
	now := time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO plans (id, status, base_rev, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		reg.ID, types.PlanActive, reg.BaseRev, now, now)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("register plan %s: %w", reg.ID, storage.ErrPlanExists)
		}
		return wrapDBError(fmt.Sprintf("register plan %s", reg.ID), err)
	}

	for _, s := range reg.Steps {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO steps (plan_id, anchor, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			reg.ID, s.Anchor, s.Title, types.StepPending, now, now); err != nil {
			return wrapDBError(fmt.Sprintf("insert step %s/%s", reg.ID, s.Anchor), err)
		}
	}

	// Edges second so the foreign keys on both endpoints resolve.
	for _, s := range reg.Steps {
		for _, dep := range s.DependsOn {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO step_dependencies (plan_id, step_anchor, depends_on_anchor) VALUES (?, ?, ?)`,
				reg.ID, s.Anchor, dep); err != nil {
				return wrapDBError(fmt.Sprintf("insert dependency %s/%s -> %s", reg.ID, s.Anchor, dep), err)
			}
		}
		for _, it := range s.Items {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO checklist_items (plan_id, step_anchor, kind, ordinal, text, status, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				reg.ID, s.Anchor, it.Kind, it.Ordinal, it.Text, types.ItemOpen, now); err != nil {
				return wrapDBError(fmt.Sprintf("insert item %s/%s %s:%d", reg.ID, s.Anchor, it.Kind, it.Ordinal), err)
			}
		}
	}
	return nil
}

func setPlanStatus(ctx context.Context, q dbtx, planID string, status types.PlanLifecycle) error {
	res, err := q.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), planID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("set plan %s status", planID), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set plan %s status: %w", planID, storage.ErrNotFound)
	}
	return nil
}

// deletePlan removes the plan row; steps, edges, items, and events
// cascade.
func deletePlan(ctx context.Context, q dbtx, planID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, planID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("delete plan %s", planID), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete plan %s: %w", planID, storage.ErrNotFound)
	}
	return nil
}

// Store wrappers.

func (s *Store) GetPlan(ctx context.Context, planID string) (*types.Plan, error) {
	return getPlan(ctx, s.db, planID)
}

func (s *Store) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	return listPlans(ctx, s.db)
}

// Transaction wrappers.

func (t *txStore) GetPlan(ctx context.Context, planID string) (*types.Plan, error) {
	return getPlan(ctx, t.conn, planID)
}

func (t *txStore) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	return listPlans(ctx, t.conn)
}

func (t *txStore) RegisterPlan(ctx context.Context, reg *types.PlanRegistration) error {
	return registerPlan(ctx, t.conn, reg)
}

func (t *txStore) SetPlanStatus(ctx context.Context, planID string, status types.PlanLifecycle) error {
	return setPlanStatus(ctx, t.conn, planID, status)
}

func (t *txStore) DeletePlan(ctx context.Context, planID string) error {
	return deletePlan(ctx, t.conn, planID)
}
