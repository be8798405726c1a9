// Package storage provides the interface and shared error types for the
// loom coordination store.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// (internal/engine, cmd/loom) depend on these interfaces rather than on
// the concrete type so that alternative backends and test doubles can be
// substituted.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/loomworks/loom/internal/types"
)

// ErrNotFound is returned when a requested plan, step, or item does not
// exist in the store.
var ErrNotFound = errors.New("not found")

// ErrPlanExists is returned when registering a plan whose identifier is
// already present.
var ErrPlanExists = errors.New("plan already registered")

// ErrPlanActive is returned when pruning a plan that has not finished.
var ErrPlanActive = errors.New("plan is not done")

// ErrStorage marks transient storage-layer failures (I/O, lock
// contention). Callers may retry these with backoff; they are never
// swallowed.
var ErrStorage = errors.New("storage error")

// Reader is the consistent-snapshot read surface shared by the store and
// its transactions. Reads never block writers and may observe a slightly
// stale but internally consistent state.
type Reader interface {
	GetPlan(ctx context.Context, planID string) (*types.Plan, error)
	ListPlans(ctx context.Context) ([]*types.Plan, error)
	GetStep(ctx context.Context, planID, anchor string) (*types.Step, error)
	ListSteps(ctx context.Context, planID string) ([]*types.Step, error)
	ListDependencies(ctx context.Context, planID string) ([]*types.Dependency, error)
	ListItems(ctx context.Context, planID, anchor string) ([]*types.ChecklistItem, error)

	// ReadySteps returns anchors of pending steps whose dependencies are
	// all completed, in ascending anchor order.
	ReadySteps(ctx context.Context, planID string) ([]string, error)

	// Events returns the newest audit events first, up to limit
	// (0 = no limit).
	Events(ctx context.Context, planID string, limit int) ([]*types.Event, error)
}

// Transaction is the mutating surface available inside
// RunInTransaction. All writes are primitive and guarded; the engine
// composes them into the coordination protocol.
type Transaction interface {
	Reader

	// RegisterPlan persists a validated registration: the plan row, its
	// steps, dependency edges, and checklist items.
	RegisterPlan(ctx context.Context, reg *types.PlanRegistration) error

	// SetPlanStatus updates the plan lifecycle status.
	SetPlanStatus(ctx context.Context, planID string, status types.PlanLifecycle) error

	// ClaimStep conditionally claims a pending step for claimant with the
	// given lease expiry. Returns false when the guarded update matched
	// zero rows, i.e. a concurrent claimant won the race.
	ClaimStep(ctx context.Context, planID, anchor, claimant string, expires time.Time) (bool, error)

	// UpdateStep applies a column/value update to one step. Allowed keys:
	// status, claimant, lease_expires_at, started_at, completed_at,
	// evidence, force_reason.
	UpdateStep(ctx context.Context, planID, anchor string, updates map[string]interface{}) error

	// RenewLease extends the lease on a step currently held by claimant.
	// Returns false when the step is not held by claimant.
	RenewLease(ctx context.Context, planID, anchor, claimant string, expires time.Time) (bool, error)

	// SetItemStatus sets one checklist item's status and reason. Returns
	// false when no such (kind, ordinal) exists for the step.
	SetItemStatus(ctx context.Context, planID, anchor string, kind types.ItemKind, ordinal int, status types.ItemStatus, reason string) (bool, error)

	// CompleteRemaining marks every open or in_progress item of the step
	// completed, skipping the excluded (kind, ordinal) pairs, and
	// returns the affected items' refs.
	CompleteRemaining(ctx context.Context, planID, anchor string, exclude []types.ItemKey) ([]string, error)

	// SetItemText rewrites one item's descriptive text, recording the
	// reconciliation reason alongside the row.
	SetItemText(ctx context.Context, planID, anchor string, kind types.ItemKind, ordinal int, text, reason string) (bool, error)

	// ReplaceItems force-aligns the step's checklist to the target set,
	// preserving the status and reason of surviving (kind, ordinal)
	// pairs. Every touched row records the reconciliation reason.
	ReplaceItems(ctx context.Context, planID, anchor string, target []types.ItemRegistration, reason string) error

	// InsertEvent appends one audit event.
	InsertEvent(ctx context.Context, ev *types.Event) error

	// DeletePlan removes the plan and all dependent rows.
	DeletePlan(ctx context.Context, planID string) error
}

// Storage is the interface satisfied by *sqlite.Store.
type Storage interface {
	Reader

	// RunInTransaction executes fn atomically. The implementation
	// guarantees serializable isolation for the claim path: a single
	// writer holds the store for the duration of fn.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
}
