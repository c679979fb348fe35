// Package guard enforces the legal execution order of stages within a session.
package guard

import (
	"fmt"
	"sort"
)

// Table is the static transition table: stage -> legal predecessor stages.
// A stage is legal once any one of its predecessors has completed.
type Table struct {
	entry        string
	predecessors map[string][]string
	successors   map[string][]string
}

// NewTable builds a table. The entry stage must have no predecessors and
// every other stage must name at least one known predecessor.
func NewTable(entry string, predecessors map[string][]string) (*Table, error) {
	if entry == "" {
		return nil, fmt.Errorf("entry stage is required")
	}
	if _, ok := predecessors[entry]; !ok {
		return nil, fmt.Errorf("entry stage %q is not in the table", entry)
	}
	if len(predecessors[entry]) > 0 {
		return nil, fmt.Errorf("entry stage %q must not have predecessors", entry)
	}

	t := &Table{
		entry:        entry,
		predecessors: make(map[string][]string, len(predecessors)),
		successors:   make(map[string][]string, len(predecessors)),
	}
	for stage, preds := range predecessors {
		if stage != entry && len(preds) == 0 {
			return nil, fmt.Errorf("stage %q has no predecessor and is not the entry stage", stage)
		}
		for _, p := range preds {
			if _, ok := predecessors[p]; !ok {
				return nil, fmt.Errorf("stage %q names unknown predecessor %q", stage, p)
			}
			if p == stage {
				return nil, fmt.Errorf("stage %q cannot precede itself", stage)
			}
			t.successors[p] = append(t.successors[p], stage)
		}
		t.predecessors[stage] = append([]string(nil), preds...)
	}
	for stage := range t.successors {
		sort.Strings(t.successors[stage])
	}
	return t, nil
}

// Entry returns the entry stage.
func (t *Table) Entry() string { return t.entry }

// Known reports whether stage is part of the table.
func (t *Table) Known(stage string) bool {
	_, ok := t.predecessors[stage]
	return ok
}

// Predecessors returns the legal predecessors of stage.
func (t *Table) Predecessors(stage string) []string {
	return append([]string(nil), t.predecessors[stage]...)
}

// IsSuccessor reports whether next may legally follow stage.
func (t *Table) IsSuccessor(stage, next string) bool {
	for _, s := range t.successors[stage] {
		if s == next {
			return true
		}
	}
	return false
}
