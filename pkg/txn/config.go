package txn

import "time"

// Config tunes lock-wait behavior, mirroring the teacher's plain-struct,
// Default*()-constructor style for option bags (see wal.Options).
type Config struct {
	TimeoutSecs               uint64
	MaxRetries                uint32
	DeadlockDetectionInterval time.Duration
}

// DefaultConfig returns the values the original engine ships with.
func DefaultConfig() Config {
	return Config{
		TimeoutSecs:               30,
		MaxRetries:                3,
		DeadlockDetectionInterval: 100 * time.Millisecond,
	}
}
