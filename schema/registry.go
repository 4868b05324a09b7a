package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/pkg/history"
	"github.com/siphon-data/siphon/types"
)

// ErrParse marks DDL the parser could not understand. Whether it surfaces to
// the caller depends on the configured DdlErrorPolicy.
var ErrParse = errors.New("ddl parse error")

// Parser turns DDL text into catalog mutations. Implementations mutate the
// supplied catalog directly (the registry owns it and serializes access) and
// report the set of databases the statements affected.
type Parser interface {
	Parse(defaultDB, ddl string, catalog *Tables) (affected *types.Set[string], err error)
}

// MetadataReader populates the catalog from live database metadata during
// bootstrap snapshots. Supplied by the connector.
type MetadataReader func(ctx context.Context, catalog *Tables) error

// StatementConsumer receives DDL text grouped by the database it affects.
type StatementConsumer func(database, ddl string)

// DdlErrorPolicy decides what a parse failure does to the catalog.
type DdlErrorPolicy string

const (
	// DdlErrorContinue keeps whatever partial changes the parser committed,
	// logs the failure and keeps going. Matches the original behavior.
	DdlErrorContinue DdlErrorPolicy = "continue"
	// DdlErrorFail surfaces the parse error to the caller.
	DdlErrorFail DdlErrorPolicy = "fail"
	// DdlErrorSkip rolls the catalog back to its pre-statement state, so the
	// failed DDL has no catalog effect at all.
	DdlErrorSkip DdlErrorPolicy = "skip"
)

// Registry maintains the authoritative table catalog and the record schemas
// derived from it, ingests DDL from the replication stream, and persists a
// recoverable history of every accepted change.
//
// Mutation is single-writer (the task worker); concurrent reads take the read
// lock.
type Registry struct {
	mu      sync.RWMutex
	tables  *Tables
	schemas map[types.TableId]*types.StructSchema

	parser   Parser
	dbHist   history.Store
	filters  *Filters
	onError  DdlErrorPolicy
	prefix   string
	ignored  *types.Set[string]
	typeFor  func(types.Column) types.DataType
}

type RegistryOption func(*Registry)

// WithDdlErrorPolicy overrides the default log-and-continue parse error
// handling.
func WithDdlErrorPolicy(policy DdlErrorPolicy) RegistryOption {
	return func(r *Registry) {
		r.onError = policy
	}
}

// WithServerName prefixes derived schema names with the logical server name.
func WithServerName(serverName string) RegistryOption {
	return func(r *Registry) {
		serverName = strings.TrimSpace(serverName)
		if serverName == "" {
			r.prefix = ""
			return
		}
		if !strings.HasSuffix(serverName, ".") {
			serverName += "."
		}
		r.prefix = serverName
	}
}

// WithTypeMapper overrides the column type to logical type mapping used when
// deriving record schemas.
func WithTypeMapper(mapper func(types.Column) types.DataType) RegistryOption {
	return func(r *Registry) {
		r.typeFor = mapper
	}
}

func NewRegistry(parser Parser, dbHist history.Store, filters *Filters, opts ...RegistryOption) *Registry {
	if filters == nil {
		filters = PassthroughFilters()
	}
	r := &Registry{
		tables:  NewTables(),
		schemas: make(map[types.TableId]*types.StructSchema),
		parser:  parser,
		dbHist:  dbHist,
		filters: filters,
		onError: DdlErrorContinue,
		ignored: types.NewSet("BEGIN", "END", "FLUSH PRIVILEGES"),
		typeFor: DefaultTypeMapper,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start acquires the history store's backing resources.
func (r *Registry) Start() error {
	return r.dbHist.Start()
}

// Stop releases them.
func (r *Registry) Stop() error {
	return r.dbHist.Stop()
}

func (r *Registry) Filters() *Filters {
	return r.filters
}

// TableFor returns the current definition for the table, or nil if the table
// is unknown or excluded by the filters.
func (r *Registry) TableFor(id types.TableId) *types.TableDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.filters.TableAllowed(id) {
		return nil
	}
	return r.tables.TableFor(id)
}

// SchemaFor returns the derived record schema for the table, or nil if the
// table is unknown or excluded by the filters.
func (r *Registry) SchemaFor(id types.TableId) *types.StructSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.filters.TableAllowed(id) {
		return nil
	}
	return r.schemas[id]
}

// TableIds lists every table currently in the catalog that passes the
// filters.
func (r *Registry) TableIds() []types.TableId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []types.TableId
	for _, id := range r.tables.IDs() {
		if r.filters.TableAllowed(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ApplyDdl applies DDL from the replication stream to the catalog and records
// it to the history. The bool reports whether the statements could have
// changed the schema; transaction noise from the ignored set returns false
// with no side effects at all.
//
// If consumer is non-nil it receives the DDL grouped by affected database,
// subject to the database filter. The history append happens whether or not
// parsing succeeded, so a later restart replays the same input; the exception
// is DdlErrorFail, which returns the parse error before anything is recorded.
func (r *Registry) ApplyDdl(position types.Position, databaseName, ddl string, consumer StatementConsumer) (bool, error) {
	if r.ignored.Exists(strings.TrimSpace(ddl)) {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	databaseName = CanonicalDatabase(databaseName)

	var rollback *Tables
	if r.onError == DdlErrorSkip {
		rollback = r.tables.Clone()
	}

	affected, parseErr := r.parser.Parse(databaseName, ddl, r.tables)
	if parseErr != nil {
		switch r.onError {
		case DdlErrorFail:
			return false, fmt.Errorf("%w: %s", ErrParse, parseErr)
		case DdlErrorSkip:
			logger.Errorf("skipping unparseable ddl at %s: %s", position, parseErr)
			rollback.changes = r.tables.changes
			r.tables = rollback
		default:
			logger.Errorf("error parsing ddl statement, continuing with partial changes: %s; ddl: %s", parseErr, ddl)
		}
	}

	if consumer != nil {
		r.distribute(databaseName, ddl, affected, consumer)
	}

	// Record the statements after distributing schema change notifications so
	// a crash between the two never loses a change the history already
	// claims to contain.
	if err := r.dbHist.Record(position, databaseName, r.tables.Snapshot(), ddl); err != nil {
		return false, err
	}

	r.refreshChanged()
	return true, nil
}

// distribute calls the consumer once per affected database, in stable order,
// honoring the database filter. When the parser could not determine affected
// databases, or every change is confined to the default database, the
// consumer runs once with the default database.
func (r *Registry) distribute(databaseName, ddl string, affected *types.Set[string], consumer StatementConsumer) {
	beyondDefault := false
	if affected != nil {
		affected.Range(func(db string) {
			if CanonicalDatabase(db) != databaseName {
				beyondDefault = true
			}
		})
	}

	if affected != nil && affected.Len() > 0 && beyondDefault {
		dbs := affected.Array()
		sort.Strings(dbs)
		for _, db := range dbs {
			db = CanonicalDatabase(db)
			if r.filters.DatabaseAllowed(db) {
				consumer(db, ddl)
			}
		}
		return
	}
	if r.filters.DatabaseAllowed(databaseName) {
		consumer(databaseName, ddl)
	}
}

// LoadHistory resets the catalog and replays the persisted history up to the
// starting position, so the catalog holds exactly the definitions that were
// live when that position was written.
func (r *Registry) LoadHistory(start types.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables.Reset()
	err := r.dbHist.Recover(start, func(rec history.Record) error {
		if _, err := r.parser.Parse(CanonicalDatabase(rec.DatabaseName), rec.DDL, r.tables); err != nil {
			// The statement was swallowed when first applied; keep replay
			// deterministic by swallowing it again.
			logger.Errorf("error replaying ddl from history: %s; ddl: %s", err, rec.DDL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to recover ddl history: %s", err)
	}

	r.refreshAll()
	return nil
}

// LoadFromMetadata bootstraps the catalog from live database metadata. On
// reader failure the catalog rolls back to its pre-call state. On success the
// changes are recorded to the history as synthetic DROP+CREATE statements at
// the given position.
func (r *Registry) LoadFromMetadata(ctx context.Context, reader MetadataReader, position types.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables.DrainChanges()
	copied := r.tables.Clone()

	if err := reader(ctx, r.tables); err != nil {
		copied.changes = r.tables.changes
		r.tables = copied
		return fmt.Errorf("failed to read schema from database metadata: %w", err)
	}

	changed := r.tables.DrainChanges()
	r.refreshAll()

	var ddl strings.Builder
	for _, id := range changed {
		fmt.Fprintf(&ddl, "DROP TABLE %s IF EXISTS;\n", id)
		if r.tables.TableFor(id) != nil {
			fmt.Fprintf(&ddl, "CREATE TABLE %s;\n", id)
		}
	}
	if err := r.dbHist.Record(position, "", r.tables.Snapshot(), ddl.String()); err != nil {
		return err
	}
	return nil
}

// refreshChanged drains the catalog's changed set, removing schemas of
// dropped tables and rebuilding those of created or altered ones.
func (r *Registry) refreshChanged() {
	for _, id := range r.tables.DrainChanges() {
		def := r.tables.TableFor(id)
		if def == nil {
			delete(r.schemas, id)
			continue
		}
		r.schemas[id] = r.buildSchema(def)
	}
}

// refreshAll discards the schema cache and rebuilds it for every table.
func (r *Registry) refreshAll() {
	r.tables.DrainChanges()
	r.schemas = make(map[types.TableId]*types.StructSchema, r.tables.Len())
	for _, id := range r.tables.IDs() {
		r.schemas[id] = r.buildSchema(r.tables.TableFor(id))
	}
}

// buildSchema derives a record schema from the definition with column filters
// and the type mapper applied. The result is never mutated afterwards; a
// change to the definition produces a fresh schema.
func (r *Registry) buildSchema(def *types.TableDef) *types.StructSchema {
	s := &types.StructSchema{
		Name:      fmt.Sprintf("%s%s", r.prefix, def.ID),
		KeyFields: append([]string{}, def.PrimaryKeys...),
	}
	for _, col := range def.Columns {
		if !r.filters.ColumnAllowed(def.ID, col.Name) {
			continue
		}
		s.Fields = append(s.Fields, types.Field{
			Name:     col.Name,
			Type:     r.typeFor(col),
			Optional: col.Nullable,
		})
	}
	return s
}

// DefaultTypeMapper maps MySQL-family column type keywords to logical record
// types.
func DefaultTypeMapper(col types.Column) types.DataType {
	switch strings.ToUpper(col.TypeName) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "YEAR":
		return types.Int32
	case "INT", "INTEGER", "BIGINT", "BIT":
		return types.Int64
	case "FLOAT":
		return types.Float32
	case "DOUBLE", "REAL":
		return types.Float64
	case "DECIMAL", "NUMERIC":
		return types.Decimal
	case "DATE", "TIME":
		return types.Timestamp
	case "DATETIME", "TIMESTAMP":
		return types.TimestampMicro
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB":
		return types.Bytes
	case "BOOLEAN", "BOOL":
		return types.Bool
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT", "JSON", "ENUM", "SET":
		return types.String
	default:
		return types.String
	}
}
