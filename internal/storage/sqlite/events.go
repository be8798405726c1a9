package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/types"
)

func insertEvent(ctx context.Context, q dbtx, ev *types.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO events (plan_id, step_anchor, event_type, actor, old_value, new_value, reason, correlation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.PlanID, ev.StepAnchor, ev.Type, ev.Actor, ev.OldValue, ev.NewValue, ev.Reason, ev.CorrelationID, ev.CreatedAt)
	return wrapDBError(fmt.Sprintf("insert event %s/%s", ev.PlanID, ev.StepAnchor), err)
}

func listEvents(ctx context.Context, q dbtx, planID string, limit int) ([]*types.Event, error) {
	query := `SELECT id, plan_id, step_anchor, event_type, actor, old_value, new_value, reason, correlation_id, created_at
		 FROM events WHERE plan_id = ? ORDER BY id DESC`
	args := []interface{}{planID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("list events %s", planID), err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(&ev.ID, &ev.PlanID, &ev.StepAnchor, &ev.Type, &ev.Actor,
			&ev.OldValue, &ev.NewValue, &ev.Reason, &ev.CorrelationID, &ev.CreatedAt); err != nil {
			return nil, wrapDBError(fmt.Sprintf("scan event %s", planID), err)
		}
		events = append(events, &ev)
	}
	return events, wrapDBError(fmt.Sprintf("list events %s", planID), rows.Err())
}

func (s *Store) Events(ctx context.Context, planID string, limit int) ([]*types.Event, error) {
	return listEvents(ctx, s.db, planID, limit)
}

func (t *txStore) Events(ctx context.Context, planID string, limit int) ([]*types.Event, error) {
	return listEvents(ctx, t.conn, planID, limit)
}

func (t *txStore) InsertEvent(ctx context.Context, ev *types.Event) error {
	return insertEvent(ctx, t.conn, ev)
}
