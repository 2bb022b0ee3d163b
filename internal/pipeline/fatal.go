package pipeline

import (
	"errors"

	"github.com/derekm/flink-tools/internal/extract"
	"github.com/derekm/flink-tools/internal/sink"
	"github.com/derekm/flink-tools/internal/source"
)

// IsFatal reports whether an error must stop the job outright instead of
// restarting from the last checkpoint. Malformed records and unresolvable
// ranges are deterministic (a restart hits them again); a lost committed
// segment cannot be reconstructed from any checkpoint.
func IsFatal(err error) bool {
	return errors.Is(err, extract.ErrMalformedRecord) ||
		errors.Is(err, source.ErrRangeResolution) ||
		errors.Is(err, sink.ErrSegmentLost)
}
