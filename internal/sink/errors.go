package sink

import "errors"

// Sentinel errors for the sink package.
var (
	// ErrSinkWrite indicates an unrecoverable storage failure. The
	// pipeline restarts from the last committed checkpoint; the write is
	// never retried in place.
	ErrSinkWrite = errors.New("sink write failed")

	// ErrSegmentLost indicates a committed segment exists in the manifest
	// but neither its final file nor its prepared temp file can be found.
	ErrSegmentLost = errors.New("committed segment lost")
)
