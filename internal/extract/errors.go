package extract

import "errors"

// Sentinel errors for the extract package.
var (
	// ErrMalformedRecord indicates a payload that could not be parsed into
	// a keyed event. The run aborts; restarting would deterministically hit
	// the same record, so callers must not retry.
	ErrMalformedRecord = errors.New("malformed record")
)
