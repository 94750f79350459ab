package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleTypeChange is returned when a live column's type differs
	// from the registry's and no registered widening covers the change.
	ErrIncompatibleTypeChange = errors.New("incompatible type change")
	// ErrMissingDefaultForRequiredField is returned when a required field must
	// be added to a table that already holds rows but declares no default.
	ErrMissingDefaultForRequiredField = errors.New("missing default for required field")
	// ErrUnexpectedLegacyColumn is returned when a live column is unknown to
	// the registry and the policy does not allow destructive steps.
	ErrUnexpectedLegacyColumn = errors.New("unexpected legacy column")
	// ErrIrreconcilableSchema is returned when no plan can reconcile the live
	// schema with the registry at all, e.g. a primary key mismatch.
	ErrIrreconcilableSchema = errors.New("irreconcilable schema")
)

// PartialMigrationFailure reports how far a per-kind migration progressed
// before failing. The transaction for the kind has been rolled back, so the
// table is unchanged; LastApplied names the last step that had executed inside
// the aborted transaction, for operator inspection.
type PartialMigrationFailure struct {
	Table       string
	LastApplied *Step
	Err         error
}

func (e *PartialMigrationFailure) Error() string {
	if e.LastApplied == nil {
		return fmt.Sprintf("migration of %s failed before any step applied: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("migration of %s failed after %q: %v", e.Table, e.LastApplied.String(), e.Err)
}

func (e *PartialMigrationFailure) Unwrap() error { return e.Err }
