package storage

import (
	"github.com/EdgeKing810/kinesis-db/pkg/txn"
	"github.com/EdgeKing810/kinesis-db/pkg/wal"
)

// bufferPoolSizeFor mirrors the original engine's per-mode buffer pool
// sizing: generous for InMemory (which barely evicts), tighter the
// closer the mode gets to disk-bound.
func bufferPoolSizeFor(mode StorageMode) int {
	switch mode {
	case InMemory:
		return 10000
	case Hybrid:
		return 1000
	default:
		return 100
	}
}

// Config gathers everything Open needs to construct an Engine: storage
// mode, file paths, the WAL restore policy, transaction tuning, and the
// default isolation level new transactions begin under.
type Config struct {
	Mode             StorageMode
	RestorePolicy    wal.RestorePolicy
	FilePath         string
	WALPath          string
	TxnConfig        txn.Config
	DefaultIsolation txn.IsolationLevel

	// BufferPoolSize overrides the mode-based default when non-zero.
	BufferPoolSize int
}

// DefaultConfig returns an InMemory engine configuration with the
// original engine's default transaction tuning and RepeatableRead
// isolation disabled (ReadCommitted is the least surprising default for
// a library caller that has not thought about isolation levels).
func DefaultConfig() Config {
	return Config{
		Mode:             InMemory,
		RestorePolicy:    wal.RestoreAll,
		TxnConfig:        txn.DefaultConfig(),
		DefaultIsolation: txn.ReadCommitted,
	}
}
