package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Segment describes one prepared output segment, ready to publish.
type Segment struct {
	Partition int
	Epoch     uint64
	TempName  string
	FinalName string
	Records   int64
	Bytes     int64
}

// FinalName returns the deterministic final name for a segment. Determinism
// is what makes recovery idempotent: re-publishing after a crash promotes
// the same temp file to the same name.
func FinalName(partition int, epoch uint64) string {
	return fmt.Sprintf("part-%d-%d", partition, epoch)
}

// tempName returns a fresh in-progress file name for a partition.
func tempName(partition int) string {
	return fmt.Sprintf(".part-%d.%s.inprogress", partition, uuid.New().String())
}

// DiscardInProgress removes every leftover in-progress file in the output
// directory. Called on restart after committed segments have been rolled
// forward; anything still in progress was never committed and its records
// will be re-read from the source.
func DiscardInProgress(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ".part-*.inprogress"))
	if err != nil {
		return 0, fmt.Errorf("scan in-progress files: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("discard %s: %w", path, err)
		}
	}
	return len(matches), nil
}

// newInProgressFile creates the temp file and its buffered writer.
func newInProgressFile(dir string, partition int) (*os.File, *bufio.Writer, string, error) {
	name := tempName(partition)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, nil, "", err
	}
	return f, bufio.NewWriter(f), name, nil
}
