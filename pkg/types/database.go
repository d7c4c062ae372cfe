package types

// Table is a point-in-time, storage-independent view of one table: its
// schema and every record it held at the moment the view was taken. It
// backs transaction snapshots, so it carries no buffer pool or disk
// state of its own, only the data a reader needs to see.
type Table struct {
	Schema  TableSchema
	Records map[uint64]Record
}

// Clone deep-copies the table, including every record's field map, so a
// snapshot can never be mutated by later writes to the live table.
func (t Table) Clone() Table {
	records := make(map[uint64]Record, len(t.Records))
	for id, r := range t.Records {
		records[id] = r.Clone()
	}
	fields := make(map[string]FieldConstraint, len(t.Schema.Fields))
	for k, v := range t.Schema.Fields {
		fields[k] = v
	}
	return Table{
		Schema:  TableSchema{Name: t.Schema.Name, Fields: fields, Version: t.Schema.Version},
		Records: records,
	}
}

// Database is a snapshot of every table at a given instant. A
// transaction running under RepeatableRead or Serializable isolation
// takes one of these at begin and reads exclusively from it.
type Database struct {
	Tables map[string]Table
}

// Clone deep-copies every table in the snapshot.
func (d Database) Clone() Database {
	tables := make(map[string]Table, len(d.Tables))
	for name, t := range d.Tables {
		tables[name] = t.Clone()
	}
	return Database{Tables: tables}
}
