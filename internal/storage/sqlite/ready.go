package sqlite

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/types"
)

// readySteps returns pending steps with no unfinished dependency, in
// ascending anchor order so every caller sees the same deterministic
// ordering. Plans hold tens of steps, so a direct NOT EXISTS probe per
// row is cheap; no blocked-set cache is needed.
func readySteps(ctx context.Context, q dbtx, planID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.anchor FROM steps s
		WHERE s.plan_id = ? AND s.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM step_dependencies d
			JOIN steps blocker ON blocker.plan_id = d.plan_id AND blocker.anchor = d.depends_on_anchor
			WHERE d.plan_id = s.plan_id AND d.step_anchor = s.anchor
			AND blocker.status != ?
		)
		ORDER BY s.anchor ASC`,
		planID, types.StepPending, types.StepCompleted)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("ready steps %s", planID), err)
	}
	defer func() { _ = rows.Close() }()

	var anchors []string
	for rows.Next() {
		var anchor string
		if err := rows.Scan(&anchor); err != nil {
			return nil, wrapDBError(fmt.Sprintf("scan ready step %s", planID), err)
		}
		anchors = append(anchors, anchor)
	}
	return anchors, wrapDBError(fmt.Sprintf("ready steps %s", planID), rows.Err())
}

func (s *Store) ReadySteps(ctx context.Context, planID string) ([]string, error) {
	return readySteps(ctx, s.db, planID)
}

func (t *txStore) ReadySteps(ctx context.Context, planID string) ([]string, error) {
	return readySteps(ctx, t.conn, planID)
}
