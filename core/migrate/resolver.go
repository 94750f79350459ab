package migrate

import (
	"fmt"
	"slices"

	"github.com/anvil-works/protostore/core/schema"
	"go.uber.org/zap"
)

// Resolver diffs the registry's derived schema against an introspected live
// schema and produces an ordered MigrationPlan, or reports precisely why no
// safe plan exists. It never guesses a lossy coercion: the strategy is fail
// closed, report precisely.
type Resolver struct {
	policy Policy
	logger *zap.Logger
}

// NewResolver creates a resolver with the given policy. A nil logger falls
// back to a no-op logger.
func NewResolver(policy Policy, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{policy: policy, logger: logger}
}

// Plan computes the reconciliation plan for every kind in the registry against
// the live schema. Kinds are visited in registry order, so planning is
// reproducible. Any column the resolver cannot reconcile fails the whole plan;
// applying a wrong plan against live data is irreversible, so nothing is
// emitted on error.
func (r *Resolver) Plan(reg *schema.Registry, live LiveSchema) (*Plan, error) {
	plan := &Plan{}
	for _, kind := range reg.All() {
		tp, err := r.planKind(kind, live)
		if err != nil {
			return nil, err
		}
		plan.Tables = append(plan.Tables, tp)
	}
	return plan, nil
}

func (r *Resolver) planKind(kind *schema.RecordKind, live LiveSchema) (*TablePlan, error) {
	want := Derive(kind)
	got, ok := live[want.Name]
	if !ok {
		r.logger.Debug("table absent live, planning create", zap.String("table", want.Name))
		return &TablePlan{Kind: kind.Name, Table: want, Create: true}, nil
	}

	tp := &TablePlan{Kind: kind.Name, Table: want}
	if got.Fingerprint() == want.Fingerprint() {
		return tp, nil
	}

	if !slices.Equal(got.PrimaryKey, want.PrimaryKey) {
		return nil, fmt.Errorf("%w: table %q primary key is %v live but %v in registry",
			ErrIrreconcilableSchema, want.Name, got.PrimaryKey, want.PrimaryKey)
	}

	var columnSteps, lateSteps []Step

	for i := range want.Columns {
		col := &want.Columns[i]
		liveCol, present := got.Column(col.Name)
		if !present {
			if !col.Nullable && col.Default == nil && !col.PrimaryKey {
				return nil, fmt.Errorf("%w: table %q column %q",
					ErrMissingDefaultForRequiredField, want.Name, col.Name)
			}
			columnSteps = append(columnSteps, Step{Kind: StepAddColumn, Table: want.Name, Column: col})
			continue
		}
		if !storageCompatible(liveCol.Type, col.Type) {
			if r.policy.AllowsWidening(liveCol.Type, col.Type) {
				columnSteps = append(columnSteps, Step{Kind: StepWidenColumn, Table: want.Name, Column: col})
				continue
			}
			return nil, fmt.Errorf("%w: table %q column %q is %s live but %s in registry",
				ErrIncompatibleTypeChange, want.Name, col.Name, liveCol.Type, col.Type)
		}
	}

	for i := range got.Columns {
		liveCol := &got.Columns[i]
		if _, known := want.Column(liveCol.Name); known {
			continue
		}
		if !r.policy.AllowDestructive {
			return nil, fmt.Errorf("%w: table %q column %q",
				ErrUnexpectedLegacyColumn, want.Name, liveCol.Name)
		}
		r.logger.Warn("planning destructive drop of legacy column",
			zap.String("table", want.Name), zap.String("column", liveCol.Name))
		columnSteps = append(columnSteps, Step{Kind: StepDropColumn, Table: want.Name, Column: liveCol})
	}

	// Index and constraint steps run last: they may reference columns the
	// column steps introduce.
	for _, idx := range want.Indexes {
		if hasIndex(got, idx) {
			continue
		}
		change := &IndexChange{Name: idx.Name, Fields: idx.Fields, Unique: idx.Unique}
		kind := StepAddIndex
		if idx.Unique {
			kind = StepAlterConstraint
		}
		lateSteps = append(lateSteps, Step{Kind: kind, Table: want.Name, Index: change})
	}

	tp.Steps = append(columnSteps, lateSteps...)
	return tp, nil
}

// storageCompatible reports whether a live column type can carry values of the
// registry type without a structural change. Enumerated columns introspect as
// plain text on dialects without a native enum type, so that pairing is
// compatible by construction.
func storageCompatible(live, want schema.SemanticType) bool {
	if live == want {
		return true
	}
	return want == schema.TypeEnumerated && live == schema.TypeText
}

func hasIndex(t *TableSchema, idx schema.IndexSpec) bool {
	for _, have := range t.Indexes {
		if have.Name == idx.Name {
			return true
		}
		if slices.Equal(have.Fields, idx.Fields) && have.Unique == idx.Unique {
			return true
		}
	}
	return false
}
