package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

const stepColumns = `plan_id, anchor, title, status, claimant, lease_expires_at,
	started_at, completed_at, evidence, force_reason, created_at, updated_at`

func scanStep(row interface{ Scan(...interface{}) error }) (*types.Step, error) {
	var s types.Step
	var claimant, evidence, forceReason sql.NullString
	var leaseExpires, startedAt, completedAt sql.NullTime
	err := row.Scan(&s.PlanID, &s.Anchor, &s.Title, &s.Status, &claimant, &leaseExpires,
		&startedAt, &completedAt, &evidence, &forceReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Claimant = claimant.String
	s.Evidence = evidence.String
	s.ForceReason = forceReason.String
	if leaseExpires.Valid {
		t := leaseExpires.Time
		s.LeaseExpiresAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

func getStep(ctx context.Context, q dbtx, planID, anchor string) (*types.Step, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE plan_id = ? AND anchor = ?`,
		planID, anchor)
	s, err := scanStep(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get step %s/%s", planID, anchor), err)
	}
	return s, nil
}

func listSteps(ctx context.Context, q dbtx, planID string) ([]*types.Step, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE plan_id = ? ORDER BY anchor ASC`,
		planID)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("list steps %s", planID), err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*types.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, wrapDBError(fmt.Sprintf("scan step %s", planID), err)
		}
		steps = append(steps, s)
	}
	return steps, wrapDBError(fmt.Sprintf("list steps %s", planID), rows.Err())
}

func listDependencies(ctx context.Context, q dbtx, planID string) ([]*types.Dependency, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT plan_id, step_anchor, depends_on_anchor FROM step_dependencies
		 WHERE plan_id = ? ORDER BY step_anchor, depends_on_anchor`,
		planID)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("list dependencies %s", planID), err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		if err := rows.Scan(&d.PlanID, &d.StepAnchor, &d.DependsOnAnchor); err != nil {
			return nil, wrapDBError(fmt.Sprintf("scan dependency %s", planID), err)
		}
		deps = append(deps, &d)
	}
	return deps, wrapDBError(fmt.Sprintf("list dependencies %s", planID), rows.Err())
}

// claimStep conditionally claims a pending step. The WHERE guard on
// status is the whole no-duplicate-claims mechanism: losing a race means
// zero rows affected, never a wrong claim.
func claimStep(ctx context.Context, q dbtx, planID, anchor, claimant string, expires time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE steps SET status = ?, claimant = ?, lease_expires_at = ?, updated_at = ?
		 WHERE plan_id = ? AND anchor = ? AND status = ?`,
		types.StepClaimed, claimant, expires.UTC(), time.Now().UTC(),
		planID, anchor, types.StepPending)
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("claim step %s/%s", planID, anchor), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("claim step %s/%s", planID, anchor), err)
	}
	return n == 1, nil
}

// stepUpdateColumns is the allowlist for updateStep keys.
var stepUpdateColumns = map[string]bool{
	"status":           true,
	"claimant":         true,
	"lease_expires_at": true,
	"started_at":       true,
	"completed_at":     true,
	"evidence":         true,
	"force_reason":     true,
}

func updateStep(ctx context.Context, q dbtx, planID, anchor string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !stepUpdateColumns[col] {
			return fmt.Errorf("update step %s/%s: unknown column %q", planID, anchor, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+3)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, updates[col])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), planID, anchor)

	// #nosec G201 -- column names come from the allowlist above
	query := fmt.Sprintf(`UPDATE steps SET %s WHERE plan_id = ? AND anchor = ?`, strings.Join(sets, ", "))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update step %s/%s", planID, anchor), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update step %s/%s: %w", planID, anchor, storage.ErrNotFound)
	}
	return nil
}

// renewLease extends the lease only when claimant still holds the step.
func renewLease(ctx context.Context, q dbtx, planID, anchor, claimant string, expires time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE steps SET lease_expires_at = ?, updated_at = ?
		 WHERE plan_id = ? AND anchor = ? AND claimant = ? AND status IN (?, ?)`,
		expires.UTC(), time.Now().UTC(),
		planID, anchor, claimant, types.StepClaimed, types.StepInProgress)
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("renew lease %s/%s", planID, anchor), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(fmt.Sprintf("renew lease %s/%s", planID, anchor), err)
	}
	return n == 1, nil
}

// Store wrappers.

func (s *Store) GetStep(ctx context.Context, planID, anchor string) (*types.Step, error) {
	return getStep(ctx, s.db, planID, anchor)
}

func (s *Store) ListSteps(ctx context.Context, planID string) ([]*types.Step, error) {
	return listSteps(ctx, s.db, planID)
}

func (s *Store) ListDependencies(ctx context.Context, planID string) ([]*types.Dependency, error) {
	return listDependencies(ctx, s.db, planID)
}

// Transaction wrappers.

func (t *txStore) GetStep(ctx context.Context, planID, anchor string) (*types.Step, error) {
	return getStep(ctx, t.conn, planID, anchor)
}

func (t *txStore) ListSteps(ctx context.Context, planID string) ([]*types.Step, error) {
	return listSteps(ctx, t.conn, planID)
}

func (t *txStore) ListDependencies(ctx context.Context, planID string) ([]*types.Dependency, error) {
	return listDependencies(ctx, t.conn, planID)
}

func (t *txStore) ClaimStep(ctx context.Context, planID, anchor, claimant string, expires time.Time) (bool, error) {
	return claimStep(ctx, t.conn, planID, anchor, claimant, expires)
}

func (t *txStore) UpdateStep(ctx context.Context, planID, anchor string, updates map[string]interface{}) error {
	return updateStep(ctx, t.conn, planID, anchor, updates)
}

func (t *txStore) RenewLease(ctx context.Context, planID, anchor, claimant string, expires time.Time) (bool, error) {
	return renewLease(ctx, t.conn, planID, anchor, claimant, expires)
}
