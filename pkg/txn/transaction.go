package txn

import "github.com/EdgeKing810/kinesis-db/pkg/types"

// PendingInsert is a row a transaction has staged for insertion into a
// table but not yet committed.
type PendingInsert struct {
	Table  string
	Record types.Record
}

// PendingUpdate is a row a transaction has staged to overwrite.
type PendingUpdate struct {
	Table  string
	Record types.Record
}

// PendingDelete is a row a transaction has staged for removal. The
// prior value is kept and written into the WAL entry's delete op;
// rollback does not read it (a failed commit restores rows from the
// transaction's snapshot instead).
type PendingDelete struct {
	Table    string
	ID       uint64
	Previous types.Record
}

// PendingSchemaUpdate is a schema migration a transaction has staged.
type PendingSchemaUpdate struct {
	Table     string
	OldSchema types.TableSchema
	NewSchema types.TableSchema
}

// ReadEntry records that a transaction observed (table, id) at a given
// version; ReadCommitted, RepeatableRead and Serializable use the set at
// commit time to detect that a concurrent writer changed something the
// transaction depended on.
type ReadEntry struct {
	Table   string
	ID      uint64
	Version uint64
}

// WriteEntry records that a transaction touched (table, id). Commit
// takes a row lock for every entry, and Serializable additionally
// rejects an entry whose live record was stamped after the transaction
// began (phantom checks use the snapshot, not this set).
type WriteEntry struct {
	Table string
	ID    uint64
}

// Transaction is an in-flight unit of work: its identity, isolation
// level, optional point-in-time snapshot, and every change it has
// staged but not yet committed. Nothing here touches a lock or a file —
// Manager mediates locking, and the storage engine commits these fields
// by replaying them in order.
type Transaction struct {
	ID        uint64
	Isolation IsolationLevel
	StartTS   uint64

	// Snapshot is populated at begin for RepeatableRead and Serializable
	// transactions; ReadUncommitted and ReadCommitted leave it nil and
	// read the live tables directly.
	Snapshot *types.Database

	PendingInserts       []PendingInsert
	PendingUpdates       []PendingUpdate
	PendingDeletes       []PendingDelete
	PendingTableCreates  []types.TableSchema
	PendingTableDrops    []string
	PendingSchemaUpdates []PendingSchemaUpdate

	ReadSet  []ReadEntry
	WriteSet []WriteEntry
}

// New starts an empty transaction. The caller is responsible for taking
// a snapshot (if the isolation level needs one) before any read.
func New(id uint64, isolation IsolationLevel, startTS uint64) *Transaction {
	return &Transaction{ID: id, Isolation: isolation, StartTS: startTS}
}

// NeedsSnapshot reports whether isolation requires a begin-time copy of
// the database.
func (t *Transaction) NeedsSnapshot() bool {
	return t.Isolation == RepeatableRead || t.Isolation == Serializable
}

// RecordRead appends to the read set. ReadCommitted, RepeatableRead
// and Serializable validation read this set at commit time; only
// ReadUncommitted ignores it.
func (t *Transaction) RecordRead(table string, id, version uint64) {
	t.ReadSet = append(t.ReadSet, ReadEntry{Table: table, ID: id, Version: version})
}

// RecordWrite appends to the write set.
func (t *Transaction) RecordWrite(table string, id uint64) {
	t.WriteSet = append(t.WriteSet, WriteEntry{Table: table, ID: id})
}

// IsEmpty reports whether the transaction has staged no changes at all,
// letting commit short-circuit to a no-op WAL entry.
func (t *Transaction) IsEmpty() bool {
	return len(t.PendingInserts) == 0 &&
		len(t.PendingUpdates) == 0 &&
		len(t.PendingDeletes) == 0 &&
		len(t.PendingTableCreates) == 0 &&
		len(t.PendingTableDrops) == 0 &&
		len(t.PendingSchemaUpdates) == 0
}
