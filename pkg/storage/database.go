package storage

import (
	"sort"
	"sync"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
	"github.com/EdgeKing810/kinesis-db/pkg/types"
)

// Database is the live, mutable collection of tables the engine
// operates on, guarded by a single reader/writer lock per §5's lock
// hierarchy (acquired last, held briefly).
type Database struct {
	mu     sync.RWMutex
	Mode   StorageMode
	tables map[string]*Table
}

// NewDatabase returns an empty database under mode.
func NewDatabase(mode StorageMode) *Database {
	return &Database{Mode: mode, tables: make(map[string]*Table)}
}

// CreateTable adds an empty table under schema; a second call for the
// same name is a no-op (idempotent on name, as recovery replay needs).
// Callers must already hold the database lock via WithReadLock or
// WithWriteLock — this and the other table accessors below assume that
// so the engine can group several lookups under one critical section
// instead of re-entering d.mu per call.
func (d *Database) CreateTable(schema types.TableSchema) {
	if _, ok := d.tables[schema.Name]; ok {
		return
	}
	d.tables[schema.Name] = NewTable(schema)
}

// DropTable removes name if present.
func (d *Database) DropTable(name string) {
	delete(d.tables, name)
}

// Table returns the live table for name.
func (d *Database) Table(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// RequireTable returns the live table for name or a MissingTableError.
func (d *Database) RequireTable(name string) (*Table, error) {
	t, ok := d.Table(name)
	if !ok {
		return nil, &dberrors.MissingTableError{Table: name}
	}
	return t, nil
}

// TableNames returns every table name, sorted for deterministic output.
func (d *Database) TableNames() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot takes a deep copy of every table, for RepeatableRead and
// Serializable transactions to read from in isolation from later
// commits.
func (d *Database) Snapshot() types.Database {
	tables := make(map[string]types.Table, len(d.tables))
	for name, t := range d.tables {
		tables[name] = t.Snapshot()
	}
	return types.Database{Tables: tables}
}

// WithReadLock runs fn while holding the database's read lock, for
// callers that need to observe several tables consistently.
func (d *Database) WithReadLock(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// WithWriteLock runs fn while holding the database's write lock.
func (d *Database) WithWriteLock(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}
