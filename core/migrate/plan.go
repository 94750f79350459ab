package migrate

import "fmt"

// StepKind identifies one atomic structural change.
type StepKind string

const (
	StepAddColumn       StepKind = "add_column"
	StepDropColumn      StepKind = "drop_column"
	StepWidenColumn     StepKind = "widen_column"
	StepAddIndex        StepKind = "add_index"
	StepAlterConstraint StepKind = "alter_constraint"
)

// Step is one atomic structural change against a single table. Which of the
// payload fields is set depends on the kind: column steps carry Column, index
// and constraint steps carry Index.
type Step struct {
	Kind   StepKind
	Table  string
	Column *ColumnSchema
	Index  *IndexChange
}

// IndexChange describes the index or uniqueness constraint a step creates.
type IndexChange struct {
	Name   string
	Fields []string
	Unique bool
}

// String renders a step for logs and migration reports.
func (s Step) String() string {
	switch s.Kind {
	case StepAddColumn:
		return fmt.Sprintf("add column %s.%s (%s)", s.Table, s.Column.Name, s.Column.Type)
	case StepDropColumn:
		return fmt.Sprintf("drop column %s.%s", s.Table, s.Column.Name)
	case StepWidenColumn:
		return fmt.Sprintf("widen column %s.%s to %s", s.Table, s.Column.Name, s.Column.Type)
	case StepAddIndex:
		return fmt.Sprintf("add index %s on %s", s.Index.Name, s.Table)
	case StepAlterConstraint:
		return fmt.Sprintf("alter constraint %s on %s", s.Index.Name, s.Table)
	default:
		return fmt.Sprintf("%s on %s", s.Kind, s.Table)
	}
}

// TablePlan is the ordered migration for one record kind. The order is a total
// order: steps must run in sequence because constraint steps may reference
// columns introduced by earlier steps. When Create is set the table does not
// exist live and is created from the derived schema instead of being altered.
type TablePlan struct {
	Kind   string
	Table  *TableSchema
	Create bool
	Steps  []Step
}

// Empty reports whether the table needs no work.
func (p *TablePlan) Empty() bool {
	return !p.Create && len(p.Steps) == 0
}

// Plan is the full reconciliation plan across all record kinds, in registry
// order. Per-kind plans are independent: one kind's failure during apply does
// not affect the others.
type Plan struct {
	Tables []*TablePlan
}

// Empty reports whether no table needs any work.
func (p *Plan) Empty() bool {
	for _, t := range p.Tables {
		if !t.Empty() {
			return false
		}
	}
	return true
}

// StepCount returns the total number of steps across all tables, counting a
// table creation as one step.
func (p *Plan) StepCount() int {
	n := 0
	for _, t := range p.Tables {
		if t.Create {
			n++
		}
		n += len(t.Steps)
	}
	return n
}
