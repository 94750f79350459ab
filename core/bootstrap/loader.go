package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/anvil-works/protostore/core/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Loader is the one-time bootstrap path. It reconciles whatever schema is live
// (typically the legacy dump, pre-loaded by provisioning) with the registry,
// then replays every snapshot row through the codec and the gateway's bulk
// ingest. It must run to completion before any application traffic is served.
type Loader struct {
	db       *sql.DB
	dialect  storage.Dialect
	registry *schema.Registry
	resolver *migrate.Resolver
	applier  *migrate.Applier
	gateway  *storage.Gateway
	logger   *zap.Logger
}

// NewLoader wires a loader from the already-constructed pieces. The gateway's
// migration gate is shared, so traffic admitted after Load returns observes
// fully migrated tables only.
func NewLoader(db *sql.DB, dialect storage.Dialect, registry *schema.Registry, policy migrate.Policy, gateway *storage.Gateway, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		db:       db,
		dialect:  dialect,
		registry: registry,
		resolver: migrate.NewResolver(policy, logger),
		applier:  migrate.NewApplier(db, dialect, logger),
		gateway:  gateway,
		logger:   logger,
	}
}

// Load runs the full bootstrap sequence: introspect, plan, apply, replay.
//
// It fails fast before touching any data if the resolver cannot produce a
// plan; applying a wrong plan against live data is irreversible. Kinds migrate
// concurrently, each under its own exclusive gate and its own transaction, so
// one incompatible table cannot block unrelated ones. Rows are ingested
// best-effort with every rejection recorded in the report.
func (l *Loader) Load(ctx context.Context, snap *Snapshot) (*Report, error) {
	live, err := l.dialect.Introspect(ctx, l.db)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect live schema: %w", err)
	}

	plan, err := l.resolver.Plan(l.registry, live)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", migrate.ErrIrreconcilableSchema, err)
	}

	report := &Report{}
	if err := l.applyPlan(ctx, plan, report); err != nil {
		return report, err
	}

	if err := l.replay(ctx, snap, report); err != nil {
		return report, err
	}

	l.logger.Info("bootstrap complete",
		zap.Int("tables_migrated", report.TablesMigrated),
		zap.Int("steps_applied", report.StepsApplied),
		zap.Int("rows_ingested", report.RowsIngested),
		zap.Int("rows_rejected", len(report.RowsRejected)))
	return report, nil
}

func (l *Loader) applyPlan(ctx context.Context, plan *migrate.Plan, report *Report) error {
	var mu sync.Mutex
	var g errgroup.Group

	for _, tp := range plan.Tables {
		if tp.Empty() {
			continue
		}
		g.Go(func() error {
			release := l.gateway.Gate().Exclusive(tp.Kind)
			defer release()

			steps, err := l.applier.ApplyTable(ctx, tp)
			if err != nil {
				return err
			}
			mu.Lock()
			report.TablesMigrated++
			report.StepsApplied += steps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (l *Loader) replay(ctx context.Context, snap *Snapshot, report *Report) error {
	if snap == nil {
		return nil
	}
	for _, table := range snap.Tables {
		kind, err := l.registry.Get(table.Name)
		if errors.Is(err, schema.ErrUnknownKind) {
			l.logger.Warn("snapshot table has no registered kind, skipping",
				zap.String("table", table.Name))
			report.SkippedTables = append(report.SkippedTables, table.Name)
			continue
		}
		if err != nil {
			return err
		}

		records := make([]*schema.Record, 0, len(table.Rows))
		for _, tuple := range table.Rows {
			values := make(map[string]any, len(table.Columns))
			for i, col := range table.Columns {
				if i < len(tuple) {
					values[col] = tuple[i]
				}
			}
			// Storage-only columns from the legacy dump are not fields.
			delete(values, migrate.VersionColumn)
			if kind.Key == "" {
				delete(values, migrate.KeyColumn)
			}
			records = append(records, schema.NewRecord(kind, values))
		}

		result, err := l.gateway.BulkIngest(ctx, kind.Name, records)
		if err != nil {
			return fmt.Errorf("ingest of %s aborted: %w", table.Name, err)
		}
		report.RowsIngested += result.Succeeded
		for _, failure := range result.Failures {
			report.RowsRejected = append(report.RowsRejected, Rejection{
				Table:  table.Name,
				Index:  failure.Index,
				Reason: failure.Err.Error(),
			})
		}
	}
	return nil
}
