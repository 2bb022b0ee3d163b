package sink

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/derekm/flink-tools/internal/observability"
)

// Writer owns one partition's in-progress output segment. It is driven
// sequentially by the partition's worker: Append between barriers, then
// Prepare at a barrier and Publish once the checkpoint has committed.
type Writer struct {
	dir       string
	partition int
	backend   Backend
	metrics   *observability.Metrics
	logger    *slog.Logger

	file    *os.File
	bufw    *bufio.Writer
	temp    string
	records int64
	bytes   int64
}

// NewWriter creates a segment writer for one partition. The output
// directory is created if needed.
func NewWriter(dir string, partition int, backend Backend, metrics *observability.Metrics, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %w", ErrSinkWrite, err)
	}
	return &Writer{
		dir:       dir,
		partition: partition,
		backend:   backend,
		metrics:   metrics,
		logger:    logger.With("component", "segment-writer", "partition", partition),
	}, nil
}

// Append writes one accepted record's payload followed by a line
// terminator to the in-progress segment. The first append after a barrier
// opens a fresh in-progress file.
func (w *Writer) Append(payload []byte) error {
	if w.file == nil {
		f, bufw, name, err := newInProgressFile(w.dir, w.partition)
		if err != nil {
			return fmt.Errorf("%w: open in-progress segment: %w", ErrSinkWrite, err)
		}
		w.file, w.bufw, w.temp = f, bufw, name
	}

	n, err := w.bufw.Write(payload)
	if err == nil {
		err = w.bufw.WriteByte('\n')
	}
	if err != nil {
		return fmt.Errorf("%w: append to %s: %w", ErrSinkWrite, w.temp, err)
	}

	w.records++
	w.bytes += int64(n) + 1
	return nil
}

// Prepare makes the in-progress segment durable ahead of the checkpoint
// transaction for the given epoch: flush, fsync, close. It returns nil if
// no records were appended since the last barrier (empty segments are never
// published). After Prepare the writer is ready for the next epoch's
// appends.
func (w *Writer) Prepare(epoch uint64) (*Segment, error) {
	if w.file == nil || w.records == 0 {
		return nil, nil
	}

	if err := w.bufw.Flush(); err != nil {
		w.file.Close()
		return nil, fmt.Errorf("%w: flush %s: %w", ErrSinkWrite, w.temp, err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return nil, fmt.Errorf("%w: sync %s: %w", ErrSinkWrite, w.temp, err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", ErrSinkWrite, w.temp, err)
	}

	seg := &Segment{
		Partition: w.partition,
		Epoch:     epoch,
		TempName:  w.temp,
		FinalName: FinalName(w.partition, epoch),
		Records:   w.records,
		Bytes:     w.bytes,
	}

	w.file, w.bufw, w.temp = nil, nil, ""
	w.records, w.bytes = 0, 0

	return seg, nil
}

// Publish atomically promotes a prepared segment to its final name. Called
// only after the checkpoint transaction covering the segment has committed.
func (w *Writer) Publish(ctx context.Context, seg *Segment) error {
	if seg == nil {
		return nil
	}
	if err := w.backend.Publish(ctx, filepath.Join(w.dir, seg.TempName), seg.FinalName); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrSinkWrite, seg.FinalName, err)
	}

	if w.metrics != nil {
		w.metrics.SegmentsPublished.Add(ctx, 1)
		w.metrics.SegmentBytes.Record(ctx, seg.Bytes)
	}
	w.logger.Debug("segment published",
		"name", seg.FinalName,
		"records", seg.Records,
		"size_bytes", seg.Bytes,
	)
	return nil
}

// Discard drops the in-progress segment, if any. Used on shutdown paths
// where the buffered records will be re-read after restart.
func (w *Writer) Discard() error {
	if w.file == nil {
		return nil
	}
	w.file.Close()
	err := os.Remove(filepath.Join(w.dir, w.temp))
	w.file, w.bufw, w.temp = nil, nil, ""
	w.records, w.bytes = 0, 0
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard in-progress segment: %w", err)
	}
	return nil
}
