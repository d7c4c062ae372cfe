package wal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
)

// checksum canonicalizes an entry's payload (struct field JSON re-parsed
// into a generic map, which Go always re-marshals with keys sorted) and
// hashes it with SHA-256, keeping only the first 8 bytes as a big-endian
// uint64. Canonicalization first, then hashing, is what lets two
// independently constructed but logically identical entries compare
// equal regardless of struct field or map key ordering (slice order
// still changes the checksum); see DESIGN.md for why
// sha256+json were kept on the standard library here.
func checksum(e Entry) (uint64, error) {
	raw, err := json.Marshal(e.payload())
	if err != nil {
		return 0, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return 0, err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256(canonical)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
