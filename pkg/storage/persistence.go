package storage

import (
	"fmt"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
	"github.com/EdgeKing810/kinesis-db/pkg/types"
	"github.com/EdgeKing810/kinesis-db/pkg/wal"
)

// writePages frames data as a sequence of PageStore pages, allocating a
// fresh page for the first byte and as many continuation pages as
// Page.Write's remainder mechanism demands, returning the ids in order.
func (e *Engine) writePages(data []byte) ([]uint64, error) {
	var ids []uint64
	remainder := data
	for {
		id, err := e.pageStore.Allocate()
		if err != nil {
			return nil, err
		}
		page := NewPage(id)
		remainder = page.Write(remainder)
		if err := e.pageStore.Write(page); err != nil {
			return nil, err
		}
		e.bufferPool.Put(page)
		ids = append(ids, id)
		if remainder == nil {
			break
		}
	}
	return ids, nil
}

// readPages concatenates the payload of every page id in order, through
// the buffer pool so repeated loads of the same page benefit from its
// cache.
func (e *Engine) readPages(ids []uint64) ([]byte, error) {
	var buf []byte
	for _, id := range ids {
		page, err := e.bufferPool.GetPage(id)
		if err != nil {
			return nil, err
		}
		buf = append(buf, page.Data...)
		e.bufferPool.Unpin(id, false)
	}
	return buf, nil
}

// saveToDisk rewrites the entire on-disk representation from the live
// in-memory tables: it frees every page the previous table-of-contents
// named (reclaiming space for tables that shrank or were dropped),
// writes fresh record chunks and a fresh TOC, then flushes the buffer
// pool and syncs the page file. Returns the checksum of the state that
// was just saved.
func (e *Engine) saveToDisk() (uint64, error) {
	oldTOCPage, err := e.bufferPool.GetPage(TOCPageID)
	if err != nil {
		return 0, err
	}
	oldTOC, err := decodeTOC(oldTOCPage.Data)
	e.bufferPool.Unpin(TOCPageID, false)
	if err != nil {
		return 0, err
	}
	for _, groups := range oldTOC.Tables {
		for _, ids := range groups {
			for _, id := range ids {
				e.pageStore.Free(id)
			}
		}
	}

	// The database lock is re-taken here, for the whole span that reads
	// table contents, because commitLocked has already released its
	// write lock by the time this runs: another goroutine's commit to a
	// different row could otherwise mutate the table maps mid-iteration.
	var checksum uint64
	newTOC := tocDocument{Tables: map[string][][]uint64{}, Schemas: map[string]types.TableSchema{}}
	var writeErr error
	e.db.WithReadLock(func() {
		checksum, writeErr = e.checksumDatabase()
		if writeErr != nil {
			return
		}
		for _, name := range e.db.TableNames() {
			t, ok := e.db.Table(name)
			if !ok {
				continue
			}
			newTOC.Schemas[name] = t.Schema
			newTOC.Tables[name] = [][]uint64{}

			records := t.Records()
			for start := 0; start < len(records); start += recordsPerChunk {
				end := start + recordsPerChunk
				if end > len(records) {
					end = len(records)
				}
				framed, err := encodeChunk(records[start:end])
				if err != nil {
					writeErr = err
					return
				}
				ids, err := e.writePages(framed)
				if err != nil {
					writeErr = err
					return
				}
				newTOC.Tables[name] = append(newTOC.Tables[name], ids)
			}
		}
	})
	if writeErr != nil {
		return 0, writeErr
	}

	tocBytes, err := encodeTOC(newTOC)
	if err != nil {
		return 0, err
	}
	if len(tocBytes) > PayloadSize {
		return 0, &dberrors.StorageFailureError{
			Op:  "save table of contents",
			Err: fmt.Errorf("table-of-contents for %d tables exceeds a single page", len(newTOC.Tables)),
		}
	}
	tocPage := NewPage(TOCPageID)
	tocPage.Write(tocBytes)
	if err := e.pageStore.Write(tocPage); err != nil {
		return 0, err
	}
	e.bufferPool.Put(tocPage)

	if err := e.bufferPool.FlushAll(); err != nil {
		return 0, err
	}
	if err := e.pageStore.Sync(); err != nil {
		return 0, err
	}
	return checksum, nil
}

// saveToDiskWithVerification saves and then confirms the checksum
// computed at commit time (under the database's write lock) still
// matches the checksum saveToDisk computed over the in-memory tables it
// serialized. The pages written are not read back.
func (e *Engine) saveToDiskWithVerification(expected uint64) error {
	actual, err := e.saveToDisk()
	if err != nil {
		return err
	}
	if actual != expected {
		return &dberrors.ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// loadFromDisk reconstructs every table from the current table of
// contents, used once at startup as recovery's first step, before any
// WAL entry is replayed.
func (e *Engine) loadFromDisk() error {
	tocPage, err := e.bufferPool.GetPage(TOCPageID)
	if err != nil {
		return err
	}
	toc, err := decodeTOC(tocPage.Data)
	e.bufferPool.Unpin(TOCPageID, false)
	if err != nil {
		return err
	}

	for name, groups := range toc.Tables {
		schema, ok := toc.Schemas[name]
		if !ok {
			schema = types.TableSchema{Name: name, Fields: map[string]types.FieldConstraint{}, Version: 1}
		}
		e.db.WithWriteLock(func() {
			e.db.CreateTable(schema)
		})

		var t *Table
		e.db.WithReadLock(func() {
			t, _ = e.db.Table(name)
		})

		for _, ids := range groups {
			buf, err := e.readPages(ids)
			if err != nil {
				return err
			}
			records, err := decodeChunk(buf)
			if err != nil {
				return err
			}
			e.db.WithWriteLock(func() {
				for _, r := range records {
					t.LoadRecord(r)
				}
			})
		}
	}
	return nil
}

// replayEntry applies one WAL entry's changes directly to the live
// tables, bypassing version/timestamp bumping since the entry already
// carries the exact values a prior commit produced. Used only during
// crash recovery.
func (e *Engine) replayEntry(entry wal.Entry) error {
	var err error
	e.db.WithWriteLock(func() {
		for _, name := range entry.TableDrops {
			e.db.DropTable(name)
		}
		for _, d := range entry.Deletes {
			if t, ok := e.db.Table(d.Table); ok {
				t.Delete(d.ID)
			}
		}
		for _, tc := range entry.TableCreates {
			e.db.CreateTable(tc.Schema)
		}
		for _, su := range entry.SchemaUpdates {
			t, tErr := e.db.RequireTable(su.Table)
			if tErr != nil {
				err = tErr
				return
			}
			if uErr := t.UpdateSchema(su.NewSchema); uErr != nil {
				err = uErr
				return
			}
		}
		for _, ins := range entry.Inserts {
			t, tErr := e.db.RequireTable(ins.Table)
			if tErr != nil {
				err = tErr
				return
			}
			t.LoadRecord(ins.Record)
		}
		for _, upd := range entry.Updates {
			t, tErr := e.db.RequireTable(upd.Table)
			if tErr != nil {
				err = tErr
				return
			}
			t.LoadRecord(upd.Record)
		}
	})
	return err
}

// recoverFromCrash loads whatever was last durably saved, then replays
// every WAL entry that never reached a completed state, skipping (and
// logging) any entry whose checksum no longer matches its payload. A
// successful replay is flushed back to disk once at the end so recovery
// only needs to run this path once even if the process crashes again
// immediately after.
func (e *Engine) recoverFromCrash() error {
	if err := e.loadFromDisk(); err != nil {
		return err
	}

	entries, err := e.wal.Load(e.restorePolicy)
	if err != nil {
		return err
	}

	replayed := 0
	for _, entry := range entries {
		if entry.Status == wal.StatusCompleted {
			continue
		}

		valid, err := e.wal.IsValid(entry.TxID)
		if err != nil {
			e.log.Warn().Err(err).Uint64("tx_id", entry.TxID).Msg("WAL validity check failed")
			continue
		}
		if !valid {
			e.log.Warn().Uint64("tx_id", entry.TxID).Msg("skipping corrupt WAL entry during recovery")
			continue
		}

		if err := e.replayEntry(entry); err != nil {
			e.log.Warn().Err(err).Uint64("tx_id", entry.TxID).Msg("failed to replay WAL entry during recovery")
			continue
		}
		if err := e.wal.MarkComplete(entry.TxID); err != nil {
			e.log.Warn().Err(err).Uint64("tx_id", entry.TxID).Msg("failed to mark recovered transaction complete")
		}
		replayed++
	}

	if replayed > 0 {
		if _, err := e.saveToDisk(); err != nil {
			return err
		}
		e.log.Info().Int("count", replayed).Msg("recovered transactions from WAL")
	}
	return nil
}
