package wal

// Options configures a Log.
type Options struct {
	// Path is the WAL file. It is created empty if it does not exist.
	Path string

	// RotateAfterCompleted is the number of completed entries that
	// triggers a rotation the next time Compact runs. The original
	// engine hardcodes this at 100; exposing it keeps the same default
	// while letting tests shrink it.
	RotateAfterCompleted int
}

// DefaultOptions mirrors the thresholds the original engine ships with.
func DefaultOptions(path string) Options {
	return Options{
		Path:                 path,
		RotateAfterCompleted: 100,
	}
}
