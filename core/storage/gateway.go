// Package storage implements the transactional gateway through which every
// record moves between wire format and relational storage. It owns the
// connection pool, applies the codec at the boundary, and enforces optimistic
// concurrency on updates.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anvil-works/protostore/core/codec"
	"github.com/anvil-works/protostore/core/migrate"
	"github.com/anvil-works/protostore/core/schema"
	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordID identifies one stored record within its kind.
type RecordID string

// Dialect is the database-specific surface the gateway needs on top of what
// migration already requires. Driver packages implement both.
type Dialect interface {
	migrate.Dialect
	// Placeholder returns the parameter placeholder for the n-th argument
	// (0-based).
	Placeholder(n int) string
}

// Stats summarizes the stored state of one kind.
type Stats struct {
	Kind         string
	Observations int64
}

// IngestFailure records why one item of a bulk ingest was rejected.
type IngestFailure struct {
	Index int
	Err   error
}

// IngestResult is the outcome of a best-effort bulk ingest.
type IngestResult struct {
	Succeeded int
	Failures  []IngestFailure
}

// Gateway exposes record-level create/read/update/delete and bulk ingest over
// one *sql.DB. Each operation runs in its own transactional scope acquired
// from the pool and released on every exit path; nothing is leaked across
// calls. Safe for concurrent use.
type Gateway struct {
	db       *sql.DB
	dialect  Dialect
	registry *schema.Registry
	codec    *codec.Codec
	gate     *Gate
	logger   *zap.Logger

	bus           *events.TypedEventBus[StorageEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// NewGateway creates a gateway over an open connection pool. A nil logger
// falls back to a no-op logger.
func NewGateway(db *sql.DB, dialect Dialect, registry *schema.Registry, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus, err := newBus()
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	return &Gateway{
		db:            db,
		dialect:       dialect,
		registry:      registry,
		codec:         codec.New(logger),
		gate:          NewGate(),
		logger:        logger,
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// Gate returns the per-kind migration gate shared between the gateway and the
// bootstrap path. Migration takes the exclusive side; every gateway operation
// takes the shared side.
func (g *Gateway) Gate() *Gate { return g.gate }

// Codec returns the codec the gateway validates every record with.
func (g *Gateway) Codec() *codec.Codec { return g.codec }

// Registry returns the registry the gateway serves.
func (g *Gateway) Registry() *schema.Registry { return g.registry }

// Put persists a new record and returns its id. The write is atomic: either
// the full record is visible to subsequent Get calls or none of it is.
func (g *Gateway) Put(ctx context.Context, record *schema.Record) (RecordID, error) {
	kind := record.Kind
	if kind == nil {
		return "", fmt.Errorf("record carries no kind")
	}
	if _, err := g.registry.Get(kind.Name); err != nil {
		return "", err
	}
	release := g.gate.Shared(kind.Name)
	defer release()

	row, err := g.codec.Encode(record)
	if err != nil {
		return "", err
	}

	id, err := g.insertRow(ctx, g.db, kind, row)
	if err != nil {
		return "", err
	}

	g.emit(RecordCreated, kind.Name, id, 1)
	return id, nil
}

// Get retrieves a record by id, or ErrNotFound.
func (g *Gateway) Get(ctx context.Context, kindName string, id RecordID) (*schema.Record, error) {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return nil, err
	}
	release := g.gate.Shared(kindName)
	defer release()

	pk, pkParam, err := g.key(kind, id)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		g.dialect.QuoteIdentifier(kind.Name), g.dialect.QuoteIdentifier(pk), g.dialect.Placeholder(0))
	g.logger.Debug("executing SELECT", zap.String("sql", query))

	rows, err := g.db.QueryContext(ctx, query, pkParam)
	if err != nil {
		return nil, fmt.Errorf("failed to execute SELECT on %s: %w", kind.Name, err)
	}
	defer rows.Close()

	raw, err := readRows(rows)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", kindName, id, ErrNotFound)
	}
	return g.decodeRow(kind, raw[0])
}

// Update rewrites a record under optimistic concurrency. The record's Version
// must be the version the caller last read; a mismatch yields a
// *ConflictError instead of silently overwriting a concurrent change.
func (g *Gateway) Update(ctx context.Context, kindName string, id RecordID, record *schema.Record) error {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return err
	}
	release := g.gate.Shared(kindName)
	defer release()

	row, err := g.codec.Encode(record)
	if err != nil {
		return err
	}

	pk, pkParam, err := g.key(kind, id)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	for _, f := range kind.Fields {
		if f.Name == kind.Key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", g.dialect.QuoteIdentifier(f.Name), g.dialect.Placeholder(len(args))))
		args = append(args, row[f.Name])
	}
	versionCol := g.dialect.QuoteIdentifier(migrate.VersionColumn)
	sets = append(sets, fmt.Sprintf("%s = %s + 1", versionCol, versionCol))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = %s",
		g.dialect.QuoteIdentifier(kind.Name),
		strings.Join(sets, ", "),
		g.dialect.QuoteIdentifier(pk), g.dialect.Placeholder(len(args)),
		versionCol, g.dialect.Placeholder(len(args)+1))
	args = append(args, pkParam, record.Version)

	g.logger.Debug("executing UPDATE", zap.String("sql", query))
	result, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute UPDATE on %s: %w", kind.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		g.emit(RecordUpdated, kind.Name, id, 1)
		return nil
	}

	// Nothing matched: either the record is gone or the version moved on.
	current, err := g.storedVersion(ctx, kind, pk, pkParam)
	if err != nil {
		return err
	}
	return &ConflictError{Kind: kindName, ID: id, Expected: record.Version, Actual: current}
}

// Delete removes a record by id, or returns ErrNotFound.
func (g *Gateway) Delete(ctx context.Context, kindName string, id RecordID) error {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return err
	}
	release := g.gate.Shared(kindName)
	defer release()

	pk, pkParam, err := g.key(kind, id)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		g.dialect.QuoteIdentifier(kind.Name), g.dialect.QuoteIdentifier(pk), g.dialect.Placeholder(0))
	g.logger.Debug("executing DELETE", zap.String("sql", query))

	result, err := g.db.ExecContext(ctx, query, pkParam)
	if err != nil {
		return fmt.Errorf("failed to execute DELETE on %s: %w", kind.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s/%s: %w", kindName, id, ErrNotFound)
	}
	g.emit(RecordDeleted, kind.Name, id, 1)
	return nil
}

// BulkIngest persists a sequence of records best-effort: one item's failure
// does not abort its siblings, and the result reports exactly which items were
// rejected and why. Cancelling the context stops ingestion between items;
// already-ingested items stay committed.
func (g *Gateway) BulkIngest(ctx context.Context, kindName string, records []*schema.Record) (IngestResult, error) {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return IngestResult{}, err
	}
	release := g.gate.Shared(kindName)
	defer release()

	var result IngestResult
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row, err := g.codec.Encode(record)
		if err != nil {
			result.Failures = append(result.Failures, IngestFailure{Index: i, Err: err})
			continue
		}
		if _, err := g.insertRow(ctx, g.db, kind, row); err != nil {
			result.Failures = append(result.Failures, IngestFailure{Index: i, Err: err})
			continue
		}
		result.Succeeded++
	}

	g.emit(BulkIngestDone, kind.Name, "", result.Succeeded)
	g.logger.Info("bulk ingest finished",
		zap.String("kind", kindName),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("rejected", len(result.Failures)))
	return result, nil
}

// FindBy retrieves all records whose field equals the given value. The field
// should be declared indexed for lookup-heavy use; this is a single-field
// equality lookup, not a query language.
func (g *Gateway) FindBy(ctx context.Context, kindName, field string, value any) ([]*schema.Record, error) {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return nil, err
	}
	spec, ok := kind.Field(field)
	if !ok {
		return nil, fmt.Errorf("kind %q has no field %q", kindName, field)
	}
	param, err := codec.Coerce(spec.Type, value)
	if err != nil {
		return nil, err
	}
	release := g.gate.Shared(kindName)
	defer release()

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		g.dialect.QuoteIdentifier(kind.Name), g.dialect.QuoteIdentifier(field), g.dialect.Placeholder(0))
	g.logger.Debug("executing SELECT", zap.String("sql", query))

	rows, err := g.db.QueryContext(ctx, query, param)
	if err != nil {
		return nil, fmt.Errorf("failed to execute SELECT on %s: %w", kind.Name, err)
	}
	defer rows.Close()

	raw, err := readRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Record, 0, len(raw))
	for _, r := range raw {
		record, err := g.decodeRow(kind, r)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Stats returns summary counts for one kind.
func (g *Gateway) Stats(ctx context.Context, kindName string) (Stats, error) {
	kind, err := g.registry.Get(kindName)
	if err != nil {
		return Stats{}, err
	}
	release := g.gate.Shared(kindName)
	defer release()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", g.dialect.QuoteIdentifier(kind.Name))
	var count int64
	if err := g.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("failed to count rows of %s: %w", kind.Name, err)
	}
	return Stats{Kind: kindName, Observations: count}, nil
}

// insertRow writes one encoded row and returns its id. The id comes from the
// kind's key field when it declares one, otherwise a fresh uuid fills the
// synthetic key column.
func (g *Gateway) insertRow(ctx context.Context, db *sql.DB, kind *schema.RecordKind, row codec.Row) (RecordID, error) {
	var cols []string
	var args []any
	var id RecordID

	if kind.Key == "" {
		id = RecordID(uuid.New().String())
		cols = append(cols, migrate.KeyColumn)
		args = append(args, string(id))
	} else {
		keyVal := row[kind.Key]
		if keyVal == nil {
			return "", fmt.Errorf("field %q: %w", kind.Key, codec.ErrRequiredFieldMissing)
		}
		id = RecordID(fmt.Sprintf("%v", keyVal))
	}

	for _, f := range kind.Fields {
		cols = append(cols, f.Name)
		args = append(args, row[f.Name])
	}
	cols = append(cols, migrate.VersionColumn)
	args = append(args, int64(1))

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.dialect.QuoteIdentifier(c)
		placeholders[i] = g.dialect.Placeholder(i)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		g.dialect.QuoteIdentifier(kind.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
	g.logger.Debug("executing INSERT", zap.String("sql", query))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", kind.Name, err)
	}
	return id, nil
}

// key resolves the primary key column and the typed query parameter for an id.
func (g *Gateway) key(kind *schema.RecordKind, id RecordID) (string, any, error) {
	if kind.Key == "" {
		return migrate.KeyColumn, string(id), nil
	}
	spec, _ := kind.Field(kind.Key)
	if spec.Type == schema.TypeInteger {
		n, err := strconv.ParseInt(string(id), 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("id %q is not valid for integer key %q: %w", id, kind.Key, err)
		}
		return kind.Key, n, nil
	}
	return kind.Key, string(id), nil
}

func (g *Gateway) storedVersion(ctx context.Context, kind *schema.RecordKind, pk string, pkParam any) (int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		g.dialect.QuoteIdentifier(migrate.VersionColumn),
		g.dialect.QuoteIdentifier(kind.Name),
		g.dialect.QuoteIdentifier(pk), g.dialect.Placeholder(0))

	var version int64
	err := g.db.QueryRowContext(ctx, query, pkParam).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", kind.Name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stored version of %s: %w", kind.Name, err)
	}
	return version, nil
}

// decodeRow runs a raw row through the codec and attaches the stored version.
func (g *Gateway) decodeRow(kind *schema.RecordKind, raw codec.Row) (*schema.Record, error) {
	record, err := g.codec.Decode(raw, kind)
	if err != nil {
		return nil, err
	}
	if v, ok := raw[migrate.VersionColumn]; ok {
		if version, err := codec.Coerce(schema.TypeInteger, v); err == nil {
			record.Version = version.(int64)
		}
	}
	return record, nil
}

// readRows drains a *sql.Rows into raw column maps. Values stay exactly as the
// driver returned them; the codec normalizes types during decode.
func readRows(rows *sql.Rows) ([]codec.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var results []codec.Row
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(codec.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}
