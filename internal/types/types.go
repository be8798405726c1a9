// Package types defines the core data structures for the loom
// coordination engine: plans, steps, dependency edges, and checklist
// items, plus the registration input consumed at plan ingestion.
package types

import (
	"fmt"
	"time"
)

// PlanLifecycle is the lifecycle status of a plan.
type PlanLifecycle string

const (
	PlanDraft  PlanLifecycle = "draft"
	PlanActive PlanLifecycle = "active"
	PlanDone   PlanLifecycle = "done"
)

// IsValid returns true for a recognized plan lifecycle value.
func (p PlanLifecycle) IsValid() bool {
	switch p {
	case PlanDraft, PlanActive, PlanDone:
		return true
	}
	return false
}

// StepStatus is the execution status of a single plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepClaimed    StepStatus = "claimed"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// IsValid returns true for a recognized step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepClaimed, StepInProgress, StepCompleted:
		return true
	}
	return false
}

// CanTransition reports whether the normal (non-forced) state machine
// allows moving from s to next. Lease reclamation is the only path back
// to pending; force-complete bypasses this check entirely and is audited
// separately.
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepClaimed
	case StepClaimed:
		return next == StepInProgress || next == StepCompleted || next == StepPending
	case StepInProgress:
		return next == StepCompleted || next == StepPending
	case StepCompleted:
		return false
	}
	return false
}

// ItemStatus is the ledger status of a checklist item.
type ItemStatus string

const (
	ItemOpen       ItemStatus = "open"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemDeferred   ItemStatus = "deferred"
)

// IsValid returns true for a recognized item status.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemOpen, ItemInProgress, ItemCompleted, ItemDeferred:
		return true
	}
	return false
}

// Resolved reports whether the item no longer blocks step completion.
func (s ItemStatus) Resolved() bool {
	return s == ItemCompleted || s == ItemDeferred
}

// ItemKind classifies a checklist item.
type ItemKind string

const (
	KindTask       ItemKind = "task"
	KindTest       ItemKind = "test"
	KindCheckpoint ItemKind = "checkpoint"
)

// Kinds lists all item kinds in display order.
var Kinds = []ItemKind{KindTask, KindTest, KindCheckpoint}

// IsValid returns true for a recognized item kind.
func (k ItemKind) IsValid() bool {
	switch k {
	case KindTask, KindTest, KindCheckpoint:
		return true
	}
	return false
}

// Plan is one registered work plan. Its step set and dependency graph
// are structurally frozen once any step has been claimed.
type Plan struct {
	ID        string        `json:"id"`
	Status    PlanLifecycle `json:"status"`
	BaseRev   string        `json:"base_rev,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Step is an individually claimable unit of work within a plan.
// Claimant and LeaseExpiresAt together form the lease; both are cleared
// on completion and on reclamation.
type Step struct {
	PlanID         string     `json:"plan_id"`
	Anchor         string     `json:"anchor"`
	Title          string     `json:"title"`
	Status         StepStatus `json:"status"`
	Claimant       string     `json:"claimant,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Evidence       string     `json:"evidence,omitempty"`
	ForceReason    string     `json:"force_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LeaseExpired reports whether the step holds a lease that expired
// before now. Steps without a lease never report expired.
func (s *Step) LeaseExpired(now time.Time) bool {
	if s.LeaseExpiresAt == nil {
		return false
	}
	return s.LeaseExpiresAt.Before(now)
}

// Dependency is a directed edge: StepAnchor depends on DependsOnAnchor.
// Both anchors belong to the same plan. Edges are immutable after
// registration.
type Dependency struct {
	PlanID          string `json:"plan_id"`
	StepAnchor      string `json:"step_anchor"`
	DependsOnAnchor string `json:"depends_on_anchor"`
}

// ChecklistItem is one required unit of work under a step. The ordinal
// set for a given step+kind is fixed at registration and never grows or
// shrinks; only status, reason, and (via reconciliation) text change.
type ChecklistItem struct {
	PlanID          string     `json:"plan_id"`
	StepAnchor      string     `json:"step_anchor"`
	Kind            ItemKind   `json:"kind"`
	Ordinal         int        `json:"ordinal"`
	Text            string     `json:"text"`
	Status          ItemStatus `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	ReconcileReason string     `json:"reconcile_reason,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Ref returns the item's (kind, ordinal) identity as a display string,
// e.g. "task:3".
func (c *ChecklistItem) Ref() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.Ordinal)
}

// ItemKey identifies one checklist item within a step.
type ItemKey struct {
	Kind    ItemKind
	Ordinal int
}

// Event is one audit-trail record. Force completions, reclamations, and
// reconciliations always leave events; routine transitions do too so the
// full step history is replayable.
type Event struct {
	ID            int64     `json:"id"`
	PlanID        string    `json:"plan_id"`
	StepAnchor    string    `json:"step_anchor,omitempty"`
	Type          string    `json:"type"`
	Actor         string    `json:"actor"`
	OldValue      string    `json:"old_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Audit event types.
const (
	EventRegistered    = "registered"
	EventClaimed       = "claimed"
	EventBegan         = "began"
	EventRenewed       = "renewed"
	EventCompleted     = "completed"
	EventForceComplete = "force_complete"
	EventReclaimed     = "reclaimed"
	EventReconciled    = "reconciled"
	EventPruned        = "pruned"
)

// ItemCounts summarizes checklist progress for one kind under a step.
type ItemCounts struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Deferred   int `json:"deferred"`
	InProgress int `json:"in_progress"`
	Open       int `json:"open"`
}

// Unresolved returns how many items still block completion.
func (c ItemCounts) Unresolved() int {
	return c.Open + c.InProgress
}

// StepView is one step in the status read surface: the step row plus
// per-kind checklist counts.
type StepView struct {
	Step   Step                    `json:"step"`
	Counts map[ItemKind]ItemCounts `json:"counts"`
}

// PlanStatus is the sole read surface that progress displays build on:
// the plan row and its steps in ascending anchor order.
type PlanStatus struct {
	Plan  Plan       `json:"plan"`
	Steps []StepView `json:"steps"`
}
