package storage

import "github.com/EdgeKing810/kinesis-db/pkg/txn"

// commitGuard is the Go stand-in for the original engine's Drop-based
// CommitGuard: acquire one around a transaction's commit path, and
// defer its Release. If the guard is released before Succeed was
// called, it unwinds the failed commit instead of leaving partial
// state behind — restoring the pre-transaction snapshot only if the
// commit actually reached the apply step, since nothing needs undoing
// for a failure that happened before any row was touched.
type commitGuard struct {
	engine  *Engine
	tx      *txn.Transaction
	done    bool
	applied bool
}

func newCommitGuard(e *Engine, tx *txn.Transaction) *commitGuard {
	return &commitGuard{engine: e, tx: tx}
}

// Succeed marks the guard as having committed cleanly, so Release
// becomes a no-op.
func (g *commitGuard) Succeed() {
	g.done = true
}

// MarkApplied records that applyChanges has already mutated the live
// tables for this commit attempt. Call it the moment apply succeeds; a
// later failure (checksum, WAL, or disk) then needs its snapshot
// rolled back, whereas a failure before this point never touched the
// tables and has nothing to restore.
func (g *commitGuard) MarkApplied() {
	g.applied = true
}

// Release runs rollbackFailedCommit if the commit reached the apply
// step before failing, or just abandons the (never-applied) staged
// changes otherwise. Call it via defer immediately after constructing
// the guard.
func (g *commitGuard) Release() {
	if g.done {
		return
	}
	if g.applied {
		g.engine.rollbackFailedCommit(g.tx)
		return
	}
	g.engine.abortUnapplied(g.tx)
}
