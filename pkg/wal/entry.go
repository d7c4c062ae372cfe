// Package wal implements the write-ahead log: every committing
// transaction is appended as a line of JSON before its changes reach
// the buffer pool, and replayed on recovery. The framing is the
// teacher's append-only-log idiom (see pool.go for the pooled-writer
// pattern), but the record format follows the original engine's
// pending/completed JSON-lines scheme instead of the teacher's
// binary-header/CRC32 page log.
package wal

import "github.com/EdgeKing810/kinesis-db/pkg/types"

// Status is the lifecycle state of a WAL entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// TableCreateOp records a table created by a transaction.
type TableCreateOp struct {
	Table  string            `json:"table"`
	Schema types.TableSchema `json:"schema"`
}

// SchemaUpdateOp records a schema migration performed by a transaction.
type SchemaUpdateOp struct {
	Table     string            `json:"table"`
	OldSchema types.TableSchema `json:"old_schema"`
	NewSchema types.TableSchema `json:"new_schema"`
}

// InsertOp records a single inserted or updated row.
type InsertOp struct {
	Table  string       `json:"table"`
	Record types.Record `json:"record"`
}

// DeleteOp records a single deleted row, including its value as it
// stood before the delete. Recovery replay only removes the row; it
// does not read the prior value.
type DeleteOp struct {
	Table    string       `json:"table"`
	ID       uint64       `json:"id"`
	Previous types.Record `json:"previous"`
}

// Entry is one line of the log: everything a transaction changed, plus
// its lifecycle status and integrity checksum.
type Entry struct {
	TxID          uint64           `json:"tx_id"`
	Timestamp     uint64           `json:"timestamp"`
	TableCreates  []TableCreateOp  `json:"table_creates"`
	TableDrops    []string         `json:"table_drops"`
	SchemaUpdates []SchemaUpdateOp `json:"schema_updates"`
	Inserts       []InsertOp       `json:"inserts"`
	Updates       []InsertOp       `json:"updates"`
	Deletes       []DeleteOp       `json:"deletes"`
	Status        Status           `json:"status"`
	Checksum      uint64           `json:"checksum"`
}

// payload is the subset of an entry that participates in the checksum:
// everything except the mutable status and the checksum field itself.
type payload struct {
	TxID          uint64           `json:"tx_id"`
	Timestamp     uint64           `json:"timestamp"`
	TableCreates  []TableCreateOp  `json:"table_creates"`
	TableDrops    []string         `json:"table_drops"`
	SchemaUpdates []SchemaUpdateOp `json:"schema_updates"`
	Inserts       []InsertOp       `json:"inserts"`
	Updates       []InsertOp       `json:"updates"`
	Deletes       []DeleteOp       `json:"deletes"`
}

func (e Entry) payload() payload {
	return payload{
		TxID:          e.TxID,
		Timestamp:     e.Timestamp,
		TableCreates:  e.TableCreates,
		TableDrops:    e.TableDrops,
		SchemaUpdates: e.SchemaUpdates,
		Inserts:       e.Inserts,
		Updates:       e.Updates,
		Deletes:       e.Deletes,
	}
}

// IsEmpty reports whether the entry carries no staged change at all.
func (e Entry) IsEmpty() bool {
	return len(e.TableCreates) == 0 && len(e.TableDrops) == 0 &&
		len(e.SchemaUpdates) == 0 && len(e.Inserts) == 0 &&
		len(e.Updates) == 0 && len(e.Deletes) == 0
}
