// Package planfile loads plan documents from YAML. It is the boundary
// collaborator that turns plan text into the registration input the
// engine consumes; the engine itself never reads plan files.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/types"
)

// Document is the on-disk plan format. Checklist items are plain string
// lists per kind; ordinals are their 1-based positions, which keeps
// ordinal contiguity a property of the format rather than author
// discipline.
type Document struct {
	Plan    string `yaml:"plan"`
	BaseRev string `yaml:"base_rev"`
	Steps   []struct {
		Anchor      string   `yaml:"anchor"`
		Title       string   `yaml:"title"`
		DependsOn   []string `yaml:"depends_on"`
		Tasks       []string `yaml:"tasks"`
		Tests       []string `yaml:"tests"`
		Checkpoints []string `yaml:"checkpoints"`
	} `yaml:"steps"`
}

// Load parses the plan document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	if doc.Plan == "" {
		return nil, fmt.Errorf("plan file %s: missing plan identifier", path)
	}
	return &doc, nil
}

// Registration converts the document into the engine's ingestion input.
func (d *Document) Registration() *types.PlanRegistration {
	reg := &types.PlanRegistration{ID: d.Plan, BaseRev: d.BaseRev}
	for _, s := range d.Steps {
		step := types.StepRegistration{
			Anchor:    s.Anchor,
			Title:     s.Title,
			DependsOn: s.DependsOn,
		}
		step.Items = append(step.Items, itemsOf(types.KindTask, s.Tasks)...)
		step.Items = append(step.Items, itemsOf(types.KindTest, s.Tests)...)
		step.Items = append(step.Items, itemsOf(types.KindCheckpoint, s.Checkpoints)...)
		reg.Steps = append(reg.Steps, step)
	}
	return reg
}

// Checklists returns the authoritative per-step checklists for drift
// checks and reconciliation.
func (d *Document) Checklists() []types.StepChecklist {
	var out []types.StepChecklist
	for _, s := range d.Steps {
		cl := types.StepChecklist{Anchor: s.Anchor}
		cl.Items = append(cl.Items, itemsOf(types.KindTask, s.Tasks)...)
		cl.Items = append(cl.Items, itemsOf(types.KindTest, s.Tests)...)
		cl.Items = append(cl.Items, itemsOf(types.KindCheckpoint, s.Checkpoints)...)
		out = append(out, cl)
	}
	return out
}

// Checklist returns the authoritative checklist for one step, or false
// when the document has no such anchor.
func (d *Document) Checklist(anchor string) (types.StepChecklist, bool) {
	for _, cl := range d.Checklists() {
		if cl.Anchor == anchor {
			return cl, true
		}
	}
	return types.StepChecklist{}, false
}

func itemsOf(kind types.ItemKind, texts []string) []types.ItemRegistration {
	items := make([]types.ItemRegistration, 0, len(texts))
	for i, text := range texts {
		items = append(items, types.ItemRegistration{Kind: kind, Ordinal: i + 1, Text: text})
	}
	return items
}
