package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRegistration() *PlanRegistration {
	return &PlanRegistration{
		ID:      "plan-1",
		BaseRev: "abc123",
		Steps: []StepRegistration{
			{Anchor: "s1", Title: "Scaffold", Items: []ItemRegistration{
				{Kind: KindTask, Ordinal: 1, Text: "create packages"},
				{Kind: KindTask, Ordinal: 2, Text: "wire config"},
				{Kind: KindTest, Ordinal: 1, Text: "unit tests pass"},
			}},
			{Anchor: "s2", Title: "Storage", DependsOn: []string{"s1"}, Items: []ItemRegistration{
				{Kind: KindTask, Ordinal: 1, Text: "schema"},
				{Kind: KindCheckpoint, Ordinal: 1, Text: "review schema"},
			}},
			{Anchor: "s3", Title: "Engine", DependsOn: []string{"s1", "s2"}},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	require.NoError(t, validRegistration().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *PlanRegistration)
		want   string
	}{
		{
			name:   "missing plan id",
			mutate: func(r *PlanRegistration) { r.ID = "" },
			want:   "plan id is required",
		},
		{
			name:   "no steps",
			mutate: func(r *PlanRegistration) { r.Steps = nil },
			want:   "plan has no steps",
		},
		{
			name:   "empty anchor",
			mutate: func(r *PlanRegistration) { r.Steps[0].Anchor = "" },
			want:   "step anchor is required",
		},
		{
			name:   "duplicate anchor",
			mutate: func(r *PlanRegistration) { r.Steps[1].Anchor = "s1" },
			want:   "duplicate step anchor",
		},
		{
			name:   "unknown dependency",
			mutate: func(r *PlanRegistration) { r.Steps[1].DependsOn = []string{"nope"} },
			want:   `depends on unknown step "nope"`,
		},
		{
			name:   "self dependency",
			mutate: func(r *PlanRegistration) { r.Steps[1].DependsOn = []string{"s2"} },
			want:   "step depends on itself",
		},
		{
			name:   "duplicate dependency",
			mutate: func(r *PlanRegistration) { r.Steps[2].DependsOn = []string{"s1", "s1"} },
			want:   `duplicate dependency on "s1"`,
		},
		{
			name: "ordinal gap",
			mutate: func(r *PlanRegistration) {
				r.Steps[0].Items[1].Ordinal = 3
			},
			want: "ordinals must be contiguous from 1 (expected 2)",
		},
		{
			name: "duplicate ordinal",
			mutate: func(r *PlanRegistration) {
				r.Steps[0].Items[1].Ordinal = 1
			},
			want: "ordinals must be contiguous from 1 (expected 2)",
		},
		{
			name: "unknown kind",
			mutate: func(r *PlanRegistration) {
				r.Steps[0].Items[0].Kind = "chore"
			},
			want: "unknown item kind",
		},
		{
			name: "empty item text",
			mutate: func(r *PlanRegistration) {
				r.Steps[0].Items[0].Text = ""
			},
			want: "item text is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := validRegistration()
			tt.mutate(reg)
			err := reg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want *ValidationError, got %T", err)
			require.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	reg := &PlanRegistration{
		ID: "plan-cyclic",
		Steps: []StepRegistration{
			{Anchor: "a", Title: "A", DependsOn: []string{"c"}},
			{Anchor: "b", Title: "B", DependsOn: []string{"a"}},
			{Anchor: "c", Title: "C", DependsOn: []string{"b"}},
			{Anchor: "d", Title: "D"},
		},
	}
	err := reg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Msg, "dependency cycle")
	// Deterministic: the smallest anchor on the cycle is reported.
	require.Equal(t, "a", verr.Step)
}

func TestStepStatusTransitions(t *testing.T) {
	allowed := map[StepStatus][]StepStatus{
		StepPending:    {StepClaimed},
		StepClaimed:    {StepInProgress, StepCompleted, StepPending},
		StepInProgress: {StepCompleted, StepPending},
		StepCompleted:  {},
	}
	all := []StepStatus{StepPending, StepClaimed, StepInProgress, StepCompleted}
	for from, nexts := range allowed {
		ok := make(map[StepStatus]bool, len(nexts))
		for _, n := range nexts {
			ok[n] = true
		}
		for _, to := range all {
			require.Equal(t, ok[to], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}
