package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Dialect translates schema structures into the DDL of one concrete database
// and introspects that database's information schema back into TableSchema
// values. Implementations live in the driver packages (sqlite, mysql).
type Dialect interface {
	// QuoteIdentifier safely quotes a table or column name.
	QuoteIdentifier(name string) string
	// ColumnType maps a semantic type to the dialect's column type.
	ColumnType(t ColumnSchema) string
	// CreateTableSQL renders the DDL statements that create a table and its
	// secondary indexes.
	CreateTableSQL(t *TableSchema) ([]string, error)
	// StepSQL renders the DDL statements for one migration step. An empty
	// slice means the step is a no-op on this dialect.
	StepSQL(step Step) ([]string, error)
	// Introspect reads the live schema of every user table.
	Introspect(ctx context.Context, db *sql.DB) (LiveSchema, error)
}

// Applier executes migration plans. Application is per-kind atomic: all steps
// for one table run inside a single transaction and roll back together, while
// other tables are unaffected by that failure.
type Applier struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewApplier creates an applier. A nil logger falls back to a no-op logger.
func NewApplier(db *sql.DB, dialect Dialect, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{db: db, dialect: dialect, logger: logger}
}

// Apply executes every table plan in order. It does not stop at the first
// failing table; per-kind failures are collected so one incompatible legacy
// table cannot block unrelated ones. The returned count is the number of
// steps that committed.
func (a *Applier) Apply(ctx context.Context, plan *Plan) (int, error) {
	applied := 0
	var errs []error
	for _, tp := range plan.Tables {
		n, err := a.ApplyTable(ctx, tp)
		applied += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return applied, errors.Join(errs...)
}

// ApplyTable executes one table plan inside a single transaction. On failure
// the transaction rolls back and the error is a *PartialMigrationFailure
// recording the last step that had executed.
func (a *Applier) ApplyTable(ctx context.Context, tp *TablePlan) (int, error) {
	if tp.Empty() {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration transaction for %s: %w", tp.Table.Name, err)
	}

	applied := 0
	var last *Step

	fail := func(err error) (int, error) {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("rollback failed after migration error",
				zap.String("table", tp.Table.Name), zap.Error(rbErr))
		}
		return 0, &PartialMigrationFailure{Table: tp.Table.Name, LastApplied: last, Err: err}
	}

	if tp.Create {
		stmts, err := a.dialect.CreateTableSQL(tp.Table)
		if err != nil {
			return fail(err)
		}
		for _, stmt := range stmts {
			a.logger.Debug("executing migration DDL", zap.String("sql", stmt))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fail(fmt.Errorf("failed to execute %q: %w", stmt, err))
			}
		}
		applied++
	}

	for i := range tp.Steps {
		step := &tp.Steps[i]
		stmts, err := a.dialect.StepSQL(*step)
		if err != nil {
			return fail(err)
		}
		for _, stmt := range stmts {
			a.logger.Debug("executing migration DDL", zap.String("sql", stmt))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fail(fmt.Errorf("failed to execute %q: %w", stmt, err))
			}
		}
		last = step
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, &PartialMigrationFailure{Table: tp.Table.Name, LastApplied: last, Err: err}
	}

	a.logger.Info("migrated table",
		zap.String("table", tp.Table.Name),
		zap.Bool("created", tp.Create),
		zap.Int("steps", applied))
	return applied, nil
}
