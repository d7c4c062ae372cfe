package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
)

// checksumDatabase hashes the entire database's committed contents the
// same way the WAL hashes a single entry (see pkg/wal/checksum.go):
// marshal, unmarshal into a generic value, remarshal so Go's map-key
// sorting gives a canonical byte sequence, then SHA-256 and keep the
// first 8 bytes big-endian. Computed after every commit's apply step
// and compared against the checksum saveToDisk computes over the
// in-memory tables it is about to serialize, so a change to the tables
// between commit and save is caught. It hashes in-memory state only;
// the bytes written to the page file are not re-read or hashed.
func checksumDatabase(db *Database) (uint64, error) {
	snap := db.Snapshot()

	data, err := json.Marshal(snap)
	if err != nil {
		return 0, &dberrors.StorageFailureError{Op: "checksum database", Err: err}
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return 0, &dberrors.StorageFailureError{Op: "checksum database", Err: err}
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return 0, &dberrors.StorageFailureError{Op: "checksum database", Err: err}
	}

	sum := sha256.Sum256(canonical)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
