// Package storage implements the engine: the orchestration layer tying
// together tables, the buffer pool, the page store, the write-ahead
// log, and the transaction manager into begin/get/insert/update/delete
// /search/commit/rollback.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
	"github.com/EdgeKing810/kinesis-db/pkg/txn"
	"github.com/EdgeKing810/kinesis-db/pkg/types"
	"github.com/EdgeKing810/kinesis-db/pkg/wal"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the single entry point a caller opens a database through.
type Engine struct {
	db               *Database
	filePath         string
	pageStore        *PageStore
	bufferPool       *BufferPool
	wal              *wal.Log
	txManager        *txn.Manager
	restorePolicy    wal.RestorePolicy
	defaultIsolation txn.IsolationLevel
	log              zerolog.Logger

	mu     sync.Mutex
	txByID map[uint64]*txn.Transaction
}

// Open constructs an Engine per cfg. For OnDisk/Hybrid modes it runs
// crash recovery, which itself loads whatever was last saved to disk
// before replaying any WAL entry that never reached a completed state.
func Open(cfg Config) (*Engine, error) {
	mode := cfg.Mode
	poolSize := cfg.BufferPoolSize
	if poolSize == 0 {
		poolSize = bufferPoolSizeFor(mode)
	}

	e := &Engine{
		db:               NewDatabase(mode),
		filePath:         cfg.FilePath,
		txManager:        txn.NewManager(cfg.TxnConfig),
		restorePolicy:    cfg.RestorePolicy,
		defaultIsolation: cfg.DefaultIsolation,
		log:              zerolog.Nop(),
		txByID:           make(map[uint64]*txn.Transaction),
	}

	if mode != InMemory {
		pageStore, err := OpenPageStore(cfg.FilePath + ".pages")
		if err != nil {
			return nil, err
		}
		e.pageStore = pageStore
		e.bufferPool = NewBufferPool(pageStore, mode, poolSize)

		logPath := cfg.WALPath
		if logPath == "" {
			logPath = cfg.FilePath + ".wal"
		}
		log, err := wal.Open(wal.DefaultOptions(logPath))
		if err != nil {
			return nil, err
		}
		e.wal = log

		if err := e.recoverFromCrash(); err != nil {
			e.log.Warn().Err(err).Msg("recovery encountered an error, continuing with valid state")
		}
	}

	return e, nil
}

// WithLogger overrides the engine's logger; useful for callers that
// want recovery/rotation/eviction events surfaced.
func (e *Engine) WithLogger(l zerolog.Logger) *Engine {
	e.log = l
	return e
}

// Close flushes any dirty pages, syncs the page file, and closes the
// WAL. A no-op for InMemory engines, which never open either.
func (e *Engine) Close() error {
	if e.db.Mode == InMemory {
		return nil
	}
	if err := e.bufferPool.FlushAll(); err != nil {
		return err
	}
	if err := e.pageStore.Sync(); err != nil {
		return err
	}
	if err := e.pageStore.Close(); err != nil {
		return err
	}
	return e.wal.Close()
}

// ActiveTransactionCount reports how many transactions are currently
// open (begun but neither committed nor rolled back).
func (e *Engine) ActiveTransactionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.txByID)
}

// newTxID mints a transaction id the way the teacher generates storage
// keys: a UUIDv7's low 8 bytes, reinterpreted big-endian as a uint64.
// Those bytes are the UUID's random part (plus variant bits), not its
// timestamp, so the resulting ids are not time-ordered. This avoids
// pulling in math/rand for something that already has an
// ecosystem-standard generator in scope.
func newTxID() uint64 {
	id := uuid.Must(uuid.NewV7())
	b := id[8:16]
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

// Begin starts a new transaction under the engine's default isolation
// level, taking a database snapshot if that level needs one.
func (e *Engine) Begin() *txn.Transaction {
	id := newTxID()
	e.txManager.Start(id)

	tx := txn.New(id, e.defaultIsolation, uint64(time.Now().Unix()))
	if tx.NeedsSnapshot() {
		var snap types.Database
		e.db.WithReadLock(func() { snap = e.db.Snapshot() })
		tx.Snapshot = &snap
	}

	e.mu.Lock()
	e.txByID[id] = tx
	e.mu.Unlock()
	return tx
}

func (e *Engine) inWriteSet(tx *txn.Transaction, table string, id uint64) bool {
	for _, w := range tx.WriteSet {
		if w.Table == table && w.ID == id {
			return true
		}
	}
	return false
}

// Get reads (table, id) under tx's isolation rules, consulting pending
// writes first.
func (e *Engine) Get(tx *txn.Transaction, table string, id uint64) (types.Record, bool) {
	if e.txManager.IsExpired(tx.ID) {
		return types.Record{}, false
	}

	if e.inWriteSet(tx, table, id) {
		for i := len(tx.PendingInserts) - 1; i >= 0; i-- {
			pi := tx.PendingInserts[i]
			if pi.Table == table && pi.Record.ID == id {
				return pi.Record.Clone(), true
			}
		}
		for i := len(tx.PendingUpdates) - 1; i >= 0; i-- {
			pu := tx.PendingUpdates[i]
			if pu.Table == table && pu.Record.ID == id {
				return pu.Record.Clone(), true
			}
		}
		for _, pd := range tx.PendingDeletes {
			if pd.Table == table && pd.ID == id {
				return types.Record{}, false
			}
		}
	}

	var record types.Record
	var ok bool
	e.db.WithReadLock(func() {
		record, ok = e.readByIsolation(tx, table, id)
	})
	if ok && !e.inWriteSet(tx, table, id) {
		tx.RecordRead(table, id, record.Version)
	}
	return record, ok
}

func (e *Engine) readByIsolation(tx *txn.Transaction, table string, id uint64) (types.Record, bool) {
	switch tx.Isolation {
	case txn.ReadUncommitted:
		t, ok := e.db.Table(table)
		if !ok {
			return types.Record{}, false
		}
		return t.Get(id)
	case txn.ReadCommitted:
		return e.getCommitted(table, id)
	default: // RepeatableRead, Serializable
		if tx.Snapshot != nil {
			snapTable, ok := tx.Snapshot.Tables[table]
			if !ok {
				return types.Record{}, false
			}
			r, ok := snapTable.Records[id]
			if !ok {
				return types.Record{}, false
			}
			return r.Clone(), true
		}
		return e.getCommitted(table, id)
	}
}

func (e *Engine) getCommitted(table string, id uint64) (types.Record, bool) {
	t, ok := e.db.Table(table)
	if !ok {
		return types.Record{}, false
	}
	r, ok := t.Get(id)
	if !ok || r.Timestamp == 0 {
		return types.Record{}, false
	}
	return r, true
}

// CreateTable stages a table creation.
func (e *Engine) CreateTable(tx *txn.Transaction, name string) {
	e.CreateTableWithSchema(tx, types.TableSchema{Name: name, Fields: map[string]types.FieldConstraint{}, Version: 1})
}

// CreateTableWithSchema stages a table creation under schema.
func (e *Engine) CreateTableWithSchema(tx *txn.Transaction, schema types.TableSchema) {
	tx.PendingTableCreates = append(tx.PendingTableCreates, schema)
}

// DropTable stages a table drop.
func (e *Engine) DropTable(tx *txn.Transaction, name string) {
	tx.PendingTableDrops = append(tx.PendingTableDrops, name)
}

// UpdateTableSchema stages a schema migration.
func (e *Engine) UpdateTableSchema(tx *txn.Transaction, name string, newSchema types.TableSchema) error {
	var oldSchema types.TableSchema
	var err error
	e.db.WithReadLock(func() {
		var t *Table
		t, err = e.db.RequireTable(name)
		if err == nil {
			oldSchema = t.Schema
		}
	})
	if err != nil {
		return err
	}
	tx.PendingSchemaUpdates = append(tx.PendingSchemaUpdates, txn.PendingSchemaUpdate{
		Table: name, OldSchema: oldSchema, NewSchema: newSchema,
	})
	return nil
}

// InsertRecord stages a record insert. If the target table does not
// currently exist and is not itself staged for creation in this
// transaction, the insert is still recorded so commit fails loudly
// with a missing-table error instead of silently doing nothing.
func (e *Engine) InsertRecord(tx *txn.Transaction, table string, record types.Record) {
	tx.PendingInserts = append(tx.PendingInserts, txn.PendingInsert{Table: table, Record: record})
	var exists bool
	e.db.WithReadLock(func() {
		_, exists = e.db.Table(table)
	})
	if exists || e.hasPendingCreate(tx, table) {
		tx.RecordWrite(table, record.ID)
	}
}

func (e *Engine) hasPendingCreate(tx *txn.Transaction, table string) bool {
	for _, s := range tx.PendingTableCreates {
		if s.Name == table {
			return true
		}
	}
	return false
}

// UpdateRecord stages a partial update.
func (e *Engine) UpdateRecord(tx *txn.Transaction, table string, id uint64, changes map[string]types.Value) {
	var rec types.Record
	e.db.WithReadLock(func() {
		current, ok := e.db.Table(table)
		if !ok {
			return
		}
		if r, ok := current.Get(id); ok {
			rec = r
		}
	})
	rec.ID = id
	if rec.Fields == nil {
		rec.Fields = map[string]types.Value{}
	}
	for k, v := range changes {
		rec.Fields[k] = v
	}
	tx.PendingUpdates = append(tx.PendingUpdates, txn.PendingUpdate{Table: table, Record: rec})
	tx.RecordWrite(table, id)
}

// DeleteRecord attempts to acquire the row lock and, if successful,
// stages the delete. Returns false if the record does not currently
// exist or the lock could not be acquired.
func (e *Engine) DeleteRecord(tx *txn.Transaction, table string, id uint64) bool {
	if !e.txManager.AcquireWithRetry(tx.ID, table, id) {
		if e.txManager.HasDeadlock(tx.ID) {
			tx.RecordWrite(table, id)
		}
		return false
	}

	var prev types.Record
	var ok bool
	e.db.WithReadLock(func() {
		t, tok := e.db.Table(table)
		if !tok {
			return
		}
		prev, ok = t.Get(id)
	})
	if !ok {
		return false
	}
	tx.PendingDeletes = append(tx.PendingDeletes, txn.PendingDelete{Table: table, ID: id, Previous: prev})
	tx.RecordWrite(table, id)
	return true
}

// Search performs the same isolation dispatch as Get but over a whole
// table via a linear substring scan.
func (e *Engine) Search(tx *txn.Transaction, table, query string) []types.Record {
	switch tx.Isolation {
	case txn.ReadUncommitted:
		var out []types.Record
		e.db.WithReadLock(func() {
			t, ok := e.db.Table(table)
			if !ok {
				return
			}
			out = t.SearchByString(query, true)
		})
		return out
	case txn.ReadCommitted:
		return e.searchCommitted(table, query)
	default:
		if tx.Snapshot != nil {
			snapTable, ok := tx.Snapshot.Tables[table]
			if !ok {
				return nil
			}
			return searchSnapshotTable(snapTable, query)
		}
		return e.searchCommitted(table, query)
	}
}

func (e *Engine) searchCommitted(table, query string) []types.Record {
	var out []types.Record
	e.db.WithReadLock(func() {
		t, ok := e.db.Table(table)
		if !ok {
			return
		}
		for _, r := range t.SearchByString(query, true) {
			if r.Timestamp > 0 {
				out = append(out, r)
			}
		}
	})
	return out
}

func searchSnapshotTable(t types.Table, query string) []types.Record {
	tmp := NewTable(t.Schema)
	tmp.rows = t.Records
	return tmp.SearchByString(query, true)
}

// GetTable returns a read-only view of a live table. The returned
// table's contents should only be read through its own methods
// (Get/Records/SearchByString), never mutated directly.
func (e *Engine) GetTable(name string) (*Table, bool) {
	var t *Table
	var ok bool
	e.db.WithReadLock(func() {
		t, ok = e.db.Table(name)
	})
	return t, ok
}

// GetTables lists every table name.
func (e *Engine) GetTables() []string {
	var names []string
	e.db.WithReadLock(func() {
		names = e.db.TableNames()
	})
	return names
}

// Commit runs the full validate→apply→checksum→WAL→flush→mark-complete
// pipeline under a commit guard, rolling back on any failure.
func (e *Engine) Commit(tx *txn.Transaction) error {
	guard := newCommitGuard(e, tx)
	defer guard.Release()

	if e.txManager.IsExpired(tx.ID) {
		e.txManager.End(tx.ID)
		return &dberrors.TimeoutError{TxID: tx.ID}
	}
	e.txManager.CleanupExpired()

	if e.txManager.HasDeadlock(tx.ID) {
		e.txManager.End(tx.ID)
		return &dberrors.DeadlockError{TxID: tx.ID}
	}

	for _, w := range tx.WriteSet {
		if !e.txManager.AcquireWithRetry(tx.ID, w.Table, w.ID) {
			e.txManager.End(tx.ID)
			return &dberrors.LockUnavailableError{Table: w.Table, ID: w.ID}
		}
	}

	err := e.commitLocked(tx, guard)

	for _, w := range tx.WriteSet {
		e.txManager.Release(tx.ID, w.Table, w.ID)
	}
	e.txManager.End(tx.ID)
	e.mu.Lock()
	delete(e.txByID, tx.ID)
	e.mu.Unlock()

	if err == nil {
		guard.Succeed()
	}
	return err
}

func (e *Engine) commitLocked(tx *txn.Transaction, guard *commitGuard) error {
	if tx.IsEmpty() {
		return e.commitEmptyLocked(tx)
	}

	if err := e.validate(tx); err != nil {
		return err
	}

	now := uint64(time.Now().Unix())
	var checksum uint64
	var applyErr error
	var entry wal.Entry
	e.db.WithWriteLock(func() {
		applyErr = e.applyChanges(tx, now)
		if applyErr != nil {
			return
		}
		entry = e.buildWALEntry(tx)
		checksum, applyErr = e.checksumDatabase()
	})
	if applyErr != nil {
		return applyErr
	}
	guard.MarkApplied()

	if e.db.Mode != InMemory {
		if _, err := e.wal.Append(tx.ID, time.Unix(int64(now), 0), entry); err != nil {
			return err
		}
	}

	if e.db.Mode == OnDisk || e.db.Mode == Hybrid {
		if err := e.saveToDiskWithVerification(checksum); err != nil {
			return err
		}
		if err := e.wal.MarkComplete(tx.ID); err != nil {
			return err
		}
		if err := e.wal.Compact(time.Unix(int64(now), 0)); err != nil {
			e.log.Warn().Err(err).Msg("WAL compaction failed")
		}
	}

	return nil
}

// commitEmptyLocked handles a transaction with no staged changes: there
// is nothing to apply, so db state is untouched, but a non-InMemory
// engine still appends a trivial WAL entry and marks it complete right
// away, so the append/mark-complete round trip happens for every
// commit, empty or not.
func (e *Engine) commitEmptyLocked(tx *txn.Transaction) error {
	if e.db.Mode == InMemory {
		return nil
	}

	now := time.Now()
	if _, err := e.wal.Append(tx.ID, now, wal.Entry{}); err != nil {
		return err
	}
	if err := e.wal.MarkComplete(tx.ID); err != nil {
		return err
	}
	if err := e.wal.Compact(now); err != nil {
		e.log.Warn().Err(err).Msg("WAL compaction failed")
	}
	return nil
}

// Rollback discards tx's staged changes without ever attempting to
// apply them: since nothing was ever applied to the live tables, there
// is nothing to restore — it only releases any locks the transaction
// took (over the course of DeleteRecord calls) and ends it, mirroring
// the original engine's public rollback operation.
func (e *Engine) Rollback(tx *txn.Transaction) error {
	e.abortUnapplied(tx)
	e.mu.Lock()
	delete(e.txByID, tx.ID)
	e.mu.Unlock()
	return nil
}

// abortUnapplied releases tx's held locks and ends it without touching
// any live row, for a commit attempt that failed before (or without)
// ever reaching applyChanges.
func (e *Engine) abortUnapplied(tx *txn.Transaction) {
	for _, w := range tx.WriteSet {
		e.txManager.Release(tx.ID, w.Table, w.ID)
	}
	e.txManager.End(tx.ID)
}

// rollbackFailedCommit undoes a commit that reached applyChanges but
// failed afterward (checksum mismatch, WAL write, or disk save): for
// every write_set entry it restores the value captured in tx's
// Begin()-time snapshot, then releases locks and ends tx the same way
// abortUnapplied does.
func (e *Engine) rollbackFailedCommit(tx *txn.Transaction) {
	e.db.WithWriteLock(func() {
		if tx.Snapshot == nil {
			return
		}
		for _, w := range tx.WriteSet {
			snapTable, ok := tx.Snapshot.Tables[w.Table]
			if !ok {
				continue
			}
			snapRecord, ok := snapTable.Records[w.ID]
			if !ok {
				continue
			}
			if t, ok := e.db.Table(w.Table); ok {
				t.LoadRecord(snapRecord)
			}
		}
	})

	e.abortUnapplied(tx)
}

func (e *Engine) validate(tx *txn.Transaction) error {
	var err error
	e.db.WithReadLock(func() {
		err = e.validateLocked(tx)
	})
	return err
}

func (e *Engine) validateLocked(tx *txn.Transaction) error {
	switch tx.Isolation {
	case txn.ReadUncommitted:
		return nil
	case txn.ReadCommitted:
		for _, r := range tx.ReadSet {
			t, ok := e.db.Table(r.Table)
			if !ok {
				continue
			}
			cur, ok := t.Get(r.ID)
			if ok && cur.Version > r.Version {
				return &dberrors.IsolationConflictError{Reason: fmt.Sprintf("record %s/%d modified since read", r.Table, r.ID)}
			}
		}
		return nil
	case txn.RepeatableRead:
		if !e.validateRepeatableReadLocked(tx) {
			return &dberrors.IsolationConflictError{Reason: "repeatable read violation"}
		}
		return nil
	default: // Serializable
		if !e.validateRepeatableReadLocked(tx) {
			return &dberrors.IsolationConflictError{Reason: "repeatable read violation"}
		}
		if !e.validateSerializableLocked(tx) {
			return &dberrors.IsolationConflictError{Reason: "serialization conflict"}
		}
		return nil
	}
}

func (e *Engine) validateRepeatableReadLocked(tx *txn.Transaction) bool {
	for _, r := range tx.ReadSet {
		t, ok := e.db.Table(r.Table)
		if !ok {
			return false
		}
		cur, ok := t.Get(r.ID)
		if !ok || cur.Version != r.Version {
			return false
		}
	}
	return true
}

func (e *Engine) validateSerializableLocked(tx *txn.Transaction) bool {
	for _, w := range tx.WriteSet {
		t, ok := e.db.Table(w.Table)
		if !ok {
			continue
		}
		cur, ok := t.Get(w.ID)
		if ok && cur.Timestamp > tx.StartTS {
			return false
		}
	}

	if tx.Snapshot == nil {
		return true
	}
	for name, snapTable := range tx.Snapshot.Tables {
		t, ok := e.db.Table(name)
		if !ok {
			if len(snapTable.Records) > 0 {
				return false
			}
			continue
		}
		if t.Len() != len(snapTable.Records) {
			return false
		}
		for id, snapRec := range snapTable.Records {
			cur, ok := t.Get(id)
			if !ok || cur.Version != snapRec.Version {
				return false
			}
		}
	}
	return true
}

// applyChanges replays tx's staged changes onto the live tables, in the
// same order the original engine applies them: drops, deletes, creates,
// schema updates, then inserts and updates. Callers must hold the
// database's write lock. Freeing a dropped or deleted row's on-disk
// pages happens later, in saveToDisk, which reconciles the whole
// table-of-contents against current table contents in one pass rather
// than tracking individual page ids per row here.
func (e *Engine) applyChanges(tx *txn.Transaction, now uint64) error {
	for _, name := range tx.PendingTableDrops {
		e.db.DropTable(name)
	}

	for _, d := range tx.PendingDeletes {
		t, ok := e.db.Table(d.Table)
		if !ok {
			continue
		}
		t.Delete(d.ID)
	}

	for _, schema := range tx.PendingTableCreates {
		e.db.CreateTable(schema)
	}

	for _, su := range tx.PendingSchemaUpdates {
		t, err := e.db.RequireTable(su.Table)
		if err != nil {
			return err
		}
		if err := t.UpdateSchema(su.NewSchema); err != nil {
			return err
		}
	}

	for _, ins := range tx.PendingInserts {
		t, err := e.db.RequireTable(ins.Table)
		if err != nil {
			return err
		}
		rec := ins.Record
		rec.Version++
		rec.Timestamp = now
		if err := t.Insert(rec); err != nil {
			return err
		}
	}

	for _, upd := range tx.PendingUpdates {
		t, err := e.db.RequireTable(upd.Table)
		if err != nil {
			return err
		}
		if err := t.Update(upd.Record.ID, upd.Record.Fields, now); err != nil {
			return err
		}
	}

	return nil
}

// buildWALEntry logs the final, post-apply state of every row tx
// touched (so a crash-recovery replay writes the exact values that were
// actually committed, including the version/timestamp bump applyChanges
// just performed), not the pre-apply pending copies. Callers must hold
// the database's write lock, same as applyChanges, and call this right
// after it.
func (e *Engine) buildWALEntry(tx *txn.Transaction) wal.Entry {
	entry := wal.Entry{}
	for _, s := range tx.PendingTableCreates {
		entry.TableCreates = append(entry.TableCreates, wal.TableCreateOp{Table: s.Name, Schema: s})
	}
	entry.TableDrops = append(entry.TableDrops, tx.PendingTableDrops...)
	for _, su := range tx.PendingSchemaUpdates {
		entry.SchemaUpdates = append(entry.SchemaUpdates, wal.SchemaUpdateOp{Table: su.Table, OldSchema: su.OldSchema, NewSchema: su.NewSchema})
	}
	for _, ins := range tx.PendingInserts {
		entry.Inserts = append(entry.Inserts, wal.InsertOp{Table: ins.Table, Record: e.committedOrPending(ins.Table, ins.Record)})
	}
	for _, upd := range tx.PendingUpdates {
		entry.Updates = append(entry.Updates, wal.InsertOp{Table: upd.Table, Record: e.committedOrPending(upd.Table, upd.Record)})
	}
	for _, d := range tx.PendingDeletes {
		entry.Deletes = append(entry.Deletes, wal.DeleteOp{Table: d.Table, ID: d.ID, Previous: d.Previous})
	}
	return entry
}

func (e *Engine) committedOrPending(table string, fallback types.Record) types.Record {
	if t, ok := e.db.Table(table); ok {
		if r, ok := t.Get(fallback.ID); ok {
			return r
		}
	}
	return fallback
}

func (e *Engine) checksumDatabase() (uint64, error) {
	return checksumDatabase(e.db)
}
