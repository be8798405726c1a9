package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/types"
)

// ReclaimExpired returns every step of the plan whose lease expired to
// the ready pool: status back to pending, claimant and expiry cleared.
// Checklist progress already recorded survives untouched, so the next
// claimant resumes instead of repeating work. Idempotent; safe to call
// with nothing to reclaim.
//
// Crash and voluntary abandonment look identical here: a claimant that
// stops renewing simply loses its lease. There is no cancel API.
func (e *Engine) ReclaimExpired(ctx context.Context, planID string) ([]string, error) {
	sweepID := uuid.NewString()
	var reclaimed []string

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		reclaimed = reclaimed[:0]
		steps, err := tx.ListSteps(ctx, planID)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, s := range steps {
			if s.Status != types.StepClaimed && s.Status != types.StepInProgress {
				continue
			}
			if !s.LeaseExpired(now) {
				continue
			}
			if err := tx.UpdateStep(ctx, planID, s.Anchor, map[string]interface{}{
				"status":           types.StepPending,
				"claimant":         nil,
				"lease_expires_at": nil,
				"started_at":       nil,
			}); err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, &types.Event{
				PlanID:        planID,
				StepAnchor:    s.Anchor,
				Type:          types.EventReclaimed,
				Actor:         "reclaimer",
				OldValue:      s.Claimant,
				NewValue:      string(types.StepPending),
				CorrelationID: sweepID,
			}); err != nil {
				return err
			}
			reclaimed = append(reclaimed, s.Anchor)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(reclaimed) > 0 {
		e.metrics.reclaims.Add(ctx, int64(len(reclaimed)))
		e.log.WithFields(map[string]interface{}{
			"plan":  planID,
			"steps": reclaimed,
			"sweep": sweepID,
		}).Info("expired leases reclaimed")
	}
	return reclaimed, nil
}

// Reclaimer periodically sweeps every active plan in the store. It is a
// safety net behind the on-demand ReclaimExpired, not a scheduler.
type Reclaimer struct {
	engine   *Engine
	interval time.Duration
}

// NewReclaimer creates a background reclaimer with the given sweep
// interval.
func NewReclaimer(engine *Engine, interval time.Duration) *Reclaimer {
	return &Reclaimer{engine: engine, interval: interval}
}

// Run sweeps until ctx is cancelled. Sweep errors are logged and do not
// stop the loop; the next tick retries.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reclaimer) sweep(ctx context.Context) {
	plans, err := r.engine.store.ListPlans(ctx)
	if err != nil {
		r.engine.log.WithError(err).Warn("reclaimer: list plans")
		return
	}
	for _, p := range plans {
		if p.Status != types.PlanActive {
			continue
		}
		if _, err := r.engine.ReclaimExpired(ctx, p.ID); err != nil {
			r.engine.log.WithError(err).WithField("plan", p.ID).Warn("reclaimer: sweep failed")
		}
	}
}
