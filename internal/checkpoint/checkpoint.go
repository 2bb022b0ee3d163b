// Package checkpoint drives the commit and recovery sides of the barrier
// protocol. A checkpoint is all-or-nothing across every partition: each
// worker prepares its segment and hands over its keyed state, then a single
// transaction records the epoch, the resume position, the state, and the
// segment manifest. Only after that transaction commits are segments
// published. On restart, recovery rolls forward any committed-but-unpublished
// segments and discards everything that was still in progress.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/derekm/flink-tools/internal/observability"
	"github.com/derekm/flink-tools/internal/sink"
	"github.com/derekm/flink-tools/internal/source"
	"github.com/derekm/flink-tools/internal/state"
)

// Config holds checkpointing configuration.
type Config struct {
	// Path is the checkpoint directory holding the state database.
	// Empty means "<OUTPUT_PATH>/.checkpoints".
	Path string `env:"CHECKPOINT_PATH"`

	// Interval is the time between checkpoint barriers
	Interval time.Duration `env:"CHECKPOINT_INTERVAL" envDefault:"30s"`
}

// PartitionSnapshot is one partition's contribution to a checkpoint: the
// keyed state as of the barrier and the segment prepared for the epoch
// (nil when the partition accepted nothing since the previous barrier).
type PartitionSnapshot struct {
	Partition int
	State     map[string]int64
	Segment   *sink.Segment
}

// Restored is the recovery point a restarted pipeline continues from.
type Restored struct {
	Epoch  uint64
	Resume source.Position
	State  map[int]map[string]int64
}

// Checkpointer commits checkpoints and recovers from the last one.
type Checkpointer struct {
	db        *state.DB
	backend   sink.Backend
	outputDir string
	metrics   *observability.Metrics
	logger    *slog.Logger
	epoch     uint64
}

// New creates a checkpointer over the given state database and segment
// backend.
func New(db *state.DB, backend sink.Backend, outputDir string, metrics *observability.Metrics, logger *slog.Logger) *Checkpointer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpointer{
		db:        db,
		backend:   backend,
		outputDir: outputDir,
		metrics:   metrics,
		logger:    logger.With("component", "checkpointer"),
	}
}

// Epoch returns the last committed epoch.
func (c *Checkpointer) Epoch() uint64 {
	return c.epoch
}

// Commit durably records the next checkpoint epoch from the aligned
// partition snapshots. All partitions must be represented. Segments are
// not published here; workers publish after Commit returns.
func (c *Checkpointer) Commit(ctx context.Context, resume source.Position, snaps []PartitionSnapshot) (uint64, error) {
	start := time.Now()
	epoch := c.epoch + 1

	cp := state.Checkpoint{
		Epoch:  epoch,
		Resume: resume,
		State:  make(map[int]map[string]int64, len(snaps)),
	}
	for _, snap := range snaps {
		cp.State[snap.Partition] = snap.State
		if snap.Segment != nil {
			cp.Segments = append(cp.Segments, state.SegmentRecord{
				Epoch:     epoch,
				Partition: snap.Segment.Partition,
				TempName:  snap.Segment.TempName,
				FinalName: snap.Segment.FinalName,
				Records:   snap.Segment.Records,
				Bytes:     snap.Segment.Bytes,
			})
		}
	}

	if err := c.db.Commit(ctx, cp); err != nil {
		return 0, fmt.Errorf("checkpoint %d: %w", epoch, err)
	}
	c.epoch = epoch

	if c.metrics != nil {
		c.metrics.CheckpointsCompleted.Add(ctx, 1)
		c.metrics.CheckpointDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	c.logger.Info("checkpoint committed",
		"epoch", epoch,
		"resume", resume,
		"segments", len(cp.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return epoch, nil
}

// Restore brings the output directory back in line with the last committed
// checkpoint and returns the recovery point. Committed segments whose
// publish was interrupted are rolled forward; in-progress files left over
// from the failed run are discarded (their records re-enter the pipeline
// when reading resumes).
func (c *Checkpointer) Restore(ctx context.Context) (*Restored, error) {
	cp, ok, err := c.db.Last(ctx)
	if err != nil {
		return nil, err
	}

	if ok {
		for _, seg := range cp.Segments {
			tempPath := filepath.Join(c.outputDir, seg.TempName)
			if err := c.backend.Recover(ctx, tempPath, seg.FinalName); err != nil {
				return nil, fmt.Errorf("recover segment %s: %w", seg.FinalName, err)
			}
		}
	}

	discarded, err := sink.DiscardInProgress(c.outputDir)
	if err != nil {
		return nil, err
	}
	if discarded > 0 {
		c.logger.Info("discarded uncommitted in-progress segments", "count", discarded)
	}

	if !ok {
		return &Restored{}, nil
	}

	c.epoch = cp.Epoch
	c.logger.Info("restored from checkpoint",
		"epoch", cp.Epoch,
		"resume", cp.Resume,
		"partitions", len(cp.State),
	)
	return &Restored{
		Epoch:  cp.Epoch,
		Resume: cp.Resume,
		State:  cp.State,
	}, nil
}
