package storage

import (
	"sort"
	"strings"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
	"github.com/EdgeKing810/kinesis-db/pkg/types"
)

// Table is an ordered id→Record map plus its schema. Ordering is by id
// ascending, used for deterministic serialization and iteration; the
// map itself holds the live values, sorted ids are derived on demand.
type Table struct {
	Name   string
	Schema types.TableSchema
	rows   map[uint64]types.Record
}

// NewTable returns an empty table under schema.
func NewTable(schema types.TableSchema) *Table {
	return &Table{Name: schema.Name, Schema: schema, rows: make(map[uint64]types.Record)}
}

func (t *Table) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns a clone of the record at id, if present.
func (t *Table) Get(id uint64) (types.Record, bool) {
	r, ok := t.rows[id]
	if !ok {
		return types.Record{}, false
	}
	return r.Clone(), true
}

// checkUnique verifies no existing record (other than skipID) shares an
// equal value on any field marked unique, with the carve-out that a
// value equal to that field's own default never collides with another
// record that is also using the default.
func (t *Table) checkUnique(fields map[string]types.Value, skipID uint64, hasSkip bool) error {
	for name, constraint := range t.Schema.Fields {
		if !constraint.Unique {
			continue
		}
		v, present := fields[name]
		if !present {
			continue
		}
		isDefault := constraint.Default != nil && v.Equal(*constraint.Default)
		for id, existing := range t.rows {
			if hasSkip && id == skipID {
				continue
			}
			ev, ok := existing.Fields[name]
			if !ok {
				continue
			}
			if isDefault && constraint.Default != nil && ev.Equal(*constraint.Default) {
				continue
			}
			if ev.Equal(v) {
				return &dberrors.SchemaViolationError{Table: t.Name, Field: name, Reason: "unique constraint violated"}
			}
		}
	}
	return nil
}

// Insert validates and stores record, applying schema defaults first.
func (t *Table) Insert(record types.Record) error {
	fields := t.Schema.ApplyDefaults(record.Fields)
	if err := t.Schema.ValidateRecord(t.Name, fields); err != nil {
		return err
	}
	if err := t.checkUnique(fields, record.ID, false); err != nil {
		return err
	}
	record.Fields = fields
	t.rows[record.ID] = record
	return nil
}

// Update merges changes into the current record's fields, validates,
// rechecks uniqueness, and only then applies, bumping version and
// stamping timestamp.
func (t *Table) Update(id uint64, changes map[string]types.Value, timestamp uint64) error {
	current, ok := t.rows[id]
	if !ok {
		return &dberrors.MissingRecordError{Table: t.Name, ID: id}
	}

	merged := make(map[string]types.Value, len(current.Fields)+len(changes))
	for k, v := range current.Fields {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	merged = t.Schema.ApplyDefaults(merged)

	if err := t.Schema.ValidateRecord(t.Name, merged); err != nil {
		return err
	}
	if err := t.checkUnique(merged, id, true); err != nil {
		return err
	}

	current.Fields = merged
	current.Version++
	current.Timestamp = timestamp
	t.rows[id] = current
	return nil
}

// Delete removes id if present, returning the prior value.
func (t *Table) Delete(id uint64) (types.Record, bool) {
	r, ok := t.rows[id]
	if !ok {
		return types.Record{}, false
	}
	delete(t.rows, id)
	return r, true
}

// SearchByString linear-scans every string field of every record in id
// order, returning records where any such field contains query.
func (t *Table) SearchByString(query string, caseInsensitive bool) []types.Record {
	needle := query
	if caseInsensitive {
		needle = strings.ToLower(query)
	}

	var out []types.Record
	for _, id := range t.sortedIDs() {
		r := t.rows[id]
		for _, v := range r.Fields {
			if v.Kind != types.KindString {
				continue
			}
			hay := v.Str
			if caseInsensitive {
				hay = strings.ToLower(hay)
			}
			if strings.Contains(hay, needle) {
				out = append(out, r.Clone())
				break
			}
		}
	}
	return out
}

// UpdateSchema migrates every record to newSchema after a compatibility
// check, atomically replacing the schema and record map only if every
// record migrates and the migrated set still respects uniqueness.
func (t *Table) UpdateSchema(newSchema types.TableSchema) error {
	if err := newSchema.CanMigrateFrom(t.Schema); err != nil {
		return err
	}

	migrated := make(map[uint64]types.Record, len(t.rows))
	for id, r := range t.rows {
		fields, err := newSchema.MigrateFields(t.Name, r.Fields)
		if err != nil {
			return err
		}
		migrated[id] = types.Record{ID: r.ID, Fields: fields, Version: r.Version, Timestamp: r.Timestamp}
	}

	staged := NewTable(newSchema)
	staged.rows = migrated
	for id, r := range migrated {
		if err := staged.checkUnique(r.Fields, id, true); err != nil {
			return err
		}
	}

	t.Schema = newSchema
	t.rows = migrated
	return nil
}

// Snapshot returns a deep-copied types.Table view of the current state.
func (t *Table) Snapshot() types.Table {
	return types.Table{Schema: t.Schema, Records: t.rows}.Clone()
}

// Len reports how many records the table currently holds.
func (t *Table) Len() int { return len(t.rows) }

// Records returns every record, ordered ascending by id.
func (t *Table) Records() []types.Record {
	out := make([]types.Record, 0, len(t.rows))
	for _, id := range t.sortedIDs() {
		out = append(out, t.rows[id])
	}
	return out
}

// LoadRecord inserts a record verbatim (no validation), used when
// reconstructing a table from disk or WAL replay where the record has
// already been validated once.
func (t *Table) LoadRecord(r types.Record) {
	t.rows[r.ID] = r
}
