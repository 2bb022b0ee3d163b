package source

import "errors"

// Sentinel errors for the source package.
var (
	// ErrRangeResolution indicates a start or end position specifier could
	// not be resolved against the input stream. The job must not start.
	ErrRangeResolution = errors.New("range resolution failed")

	// ErrEmptyRange indicates the resolved range contains no positions.
	ErrEmptyRange = errors.New("resolved range is empty")
)
