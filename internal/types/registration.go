package types

import (
	"fmt"
	"sort"
)

// PlanRegistration is the ingestion input produced by an external plan
// parser: the plan identity, its ordered steps, dependency edges, and
// per-step checklist items. The engine validates it and persists it
// atomically; it never re-reads the plan document afterward.
type PlanRegistration struct {
	ID      string             `json:"id" yaml:"plan"`
	BaseRev string             `json:"base_rev,omitempty" yaml:"base_rev"`
	Steps   []StepRegistration `json:"steps" yaml:"steps"`
}

// StepRegistration is one step of a registration: a stable anchor, a
// title, the anchors it depends on, and its checklist items.
type StepRegistration struct {
	Anchor    string             `json:"anchor" yaml:"anchor"`
	Title     string             `json:"title" yaml:"title"`
	DependsOn []string           `json:"depends_on,omitempty" yaml:"depends_on"`
	Items     []ItemRegistration `json:"items,omitempty" yaml:"items"`
}

// ItemRegistration is one checklist item at registration time.
type ItemRegistration struct {
	Kind    ItemKind `json:"kind" yaml:"kind"`
	Ordinal int      `json:"ordinal" yaml:"ordinal"`
	Text    string   `json:"text" yaml:"text"`
}

// StepChecklist is the authoritative checklist for one step, supplied
// externally for drift checks and reconciliation.
type StepChecklist struct {
	Anchor string             `json:"anchor"`
	Items  []ItemRegistration `json:"items"`
}

// ValidationError identifies exactly which step or item of a
// registration is malformed. Registration is all-or-nothing: one
// ValidationError rejects the whole input.
type ValidationError struct {
	Plan    string
	Step    string
	Kind    ItemKind
	Ordinal int
	Msg     string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Step != "" && e.Kind != "":
		return fmt.Sprintf("plan %s: step %s: item %s:%d: %s", e.Plan, e.Step, e.Kind, e.Ordinal, e.Msg)
	case e.Step != "":
		return fmt.Sprintf("plan %s: step %s: %s", e.Plan, e.Step, e.Msg)
	default:
		return fmt.Sprintf("plan %s: %s", e.Plan, e.Msg)
	}
}

// Validate checks the registration invariants the engine relies on:
// non-empty identifiers, unique anchors, resolvable dependency edges, an
// acyclic dependency graph, and per-step+kind ordinals that form a
// contiguous run starting at 1.
func (r *PlanRegistration) Validate() error {
	if r.ID == "" {
		return &ValidationError{Plan: r.ID, Msg: "plan id is required"}
	}
	if len(r.Steps) == 0 {
		return &ValidationError{Plan: r.ID, Msg: "plan has no steps"}
	}

	anchors := make(map[string]bool, len(r.Steps))
	for _, s := range r.Steps {
		if s.Anchor == "" {
			return &ValidationError{Plan: r.ID, Msg: "step anchor is required"}
		}
		if s.Title == "" {
			return &ValidationError{Plan: r.ID, Step: s.Anchor, Msg: "step title is required"}
		}
		if anchors[s.Anchor] {
			return &ValidationError{Plan: r.ID, Step: s.Anchor, Msg: "duplicate step anchor"}
		}
		anchors[s.Anchor] = true
	}

	for _, s := range r.Steps {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if !anchors[dep] {
				return &ValidationError{Plan: r.ID, Step: s.Anchor, Msg: fmt.Sprintf("depends on unknown step %q", dep)}
			}
			if dep == s.Anchor {
				return &ValidationError{Plan: r.ID, Step: s.Anchor, Msg: "step depends on itself"}
			}
			if seen[dep] {
				return &ValidationError{Plan: r.ID, Step: s.Anchor, Msg: fmt.Sprintf("duplicate dependency on %q", dep)}
			}
			seen[dep] = true
		}
		if err := validateOrdinals(r.ID, s); err != nil {
			return err
		}
	}

	if cycle := findCycle(r.Steps); cycle != "" {
		return &ValidationError{Plan: r.ID, Step: cycle, Msg: "dependency cycle detected"}
	}
	return nil
}

// validateOrdinals checks that each kind's ordinals under the step are a
// contiguous 1..n run with no duplicates, and that items are well formed.
func validateOrdinals(plan string, s StepRegistration) error {
	byKind := make(map[ItemKind][]int)
	for _, it := range s.Items {
		if !it.Kind.IsValid() {
			return &ValidationError{Plan: plan, Step: s.Anchor, Kind: it.Kind, Ordinal: it.Ordinal, Msg: "unknown item kind"}
		}
		if it.Text == "" {
			return &ValidationError{Plan: plan, Step: s.Anchor, Kind: it.Kind, Ordinal: it.Ordinal, Msg: "item text is required"}
		}
		byKind[it.Kind] = append(byKind[it.Kind], it.Ordinal)
	}
	for kind, ords := range byKind {
		sort.Ints(ords)
		for i, ord := range ords {
			if ord != i+1 {
				return &ValidationError{
					Plan: plan, Step: s.Anchor, Kind: kind, Ordinal: ord,
					Msg: fmt.Sprintf("ordinals must be contiguous from 1 (expected %d)", i+1),
				}
			}
		}
	}
	return nil
}

// findCycle runs Kahn's algorithm over the dependency graph and returns
// the anchor of one step on a cycle, or "" when the graph is acyclic.
func findCycle(steps []StepRegistration) string {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		indegree[s.Anchor] += 0
		for _, dep := range s.DependsOn {
			indegree[s.Anchor]++
			dependents[dep] = append(dependents[dep], s.Anchor)
		}
	}

	var queue []string
	for anchor, deg := range indegree {
		if deg == 0 {
			queue = append(queue, anchor)
		}
	}
	visited := 0
	for len(queue) > 0 {
		anchor := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[anchor] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(steps) {
		return ""
	}
	// Any step with remaining indegree sits on or behind a cycle; report
	// the lexicographically smallest for determinism.
	var worst string
	for anchor, deg := range indegree {
		if deg > 0 && (worst == "" || anchor < worst) {
			worst = anchor
		}
	}
	return worst
}
