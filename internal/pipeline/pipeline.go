// Package pipeline wires the bounded source, extractor, deduplication
// engines, and checkpointed sink into a partitioned exactly-once job.
//
// One reader goroutine pulls records in position order, extracts the key
// and sequence, and routes each record to the worker owning the key's hash
// partition. Checkpoint barriers travel in-band through the same worker
// channels: on a barrier every worker prepares its segment and snapshots
// its state, the coordinator commits one transaction covering all of them,
// and only then do workers publish and resume. Within a worker, processing
// is strictly sequential.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/derekm/flink-tools/internal/checkpoint"
	"github.com/derekm/flink-tools/internal/dedup"
	"github.com/derekm/flink-tools/internal/extract"
	"github.com/derekm/flink-tools/internal/observability"
	"github.com/derekm/flink-tools/internal/sink"
	"github.com/derekm/flink-tools/internal/source"
	"github.com/derekm/flink-tools/internal/state"
)

// Config holds pipeline execution configuration.
type Config struct {
	// Parallelism is the number of key-partitioned workers
	Parallelism int `env:"PARALLELISM" envDefault:"4"`

	// ChannelBuffer is the per-worker record channel depth
	ChannelBuffer int `env:"WORKER_CHANNEL_BUFFER" envDefault:"256"`
}

// Pipeline is one run of the job, from a restored checkpoint to either the
// end of the range or a failure.
type Pipeline struct {
	cfg      Config
	interval time.Duration
	src      source.Source
	extract  *extract.Extractor
	dedupCfg dedup.Config
	sinkDir  string
	backend  sink.Backend
	ckpt     *checkpoint.Checkpointer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New assembles a pipeline. The metrics parameter is optional.
func New(
	cfg Config,
	interval time.Duration,
	src source.Source,
	extractor *extract.Extractor,
	dedupCfg dedup.Config,
	sinkDir string,
	backend sink.Backend,
	ckpt *checkpoint.Checkpointer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.ChannelBuffer < 1 {
		cfg.ChannelBuffer = 256
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Pipeline{
		cfg:      cfg,
		interval: interval,
		src:      src,
		extract:  extractor,
		dedupCfg: dedupCfg,
		sinkDir:  sinkDir,
		backend:  backend,
		ckpt:     ckpt,
		metrics:  metrics,
		logger:   logger.With("component", "pipeline"),
	}
}

// message is what flows through a worker channel: a routed event, or a
// barrier marker separating two checkpoint epochs.
type message struct {
	event   extract.Event
	barrier *barrier
}

// barrier coordinates one checkpoint epoch across all workers.
type barrier struct {
	epoch  uint64
	acks   chan barrierAck
	commit chan struct{} // closed once the checkpoint transaction committed
	abort  chan struct{} // closed if the epoch is abandoned
}

type barrierAck struct {
	snap checkpoint.PartitionSnapshot
	err  error
}

// Run executes the pipeline until the bounded range is consumed (returns
// nil) or a failure stops it. Callers may invoke Run again after a
// restartable failure; it restores from the last committed checkpoint
// first.
func (p *Pipeline) Run(ctx context.Context) error {
	restored, err := p.ckpt.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}

	resume := restored.Resume
	if resume < p.src.Range().Start {
		resume = p.src.Range().Start
	}

	n := p.cfg.Parallelism
	engines := make([]*dedup.Engine, n)
	stores := make([]*state.MemStore, n)
	writers := make([]*sink.Writer, n)
	inputs := make([]chan message, n)
	for i := 0; i < n; i++ {
		stores[i] = state.NewMemStoreFrom(restored.State[i])
		engines[i] = dedup.New(i, stores[i], p.dedupCfg, p.metrics, p.logger)
		w, err := sink.NewWriter(p.sinkDir, i, p.backend, p.metrics, p.logger)
		if err != nil {
			return err
		}
		writers[i] = w
		inputs[i] = make(chan message, p.cfg.ChannelBuffer)
	}

	p.logger.Info("pipeline starting",
		"range", p.src.Range(),
		"resume", resume,
		"epoch", restored.Epoch,
		"parallelism", n,
	)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return p.runWorker(gctx, i, inputs[i], engines[i], stores[i], writers[i])
		})
	}

	g.Go(func() error {
		return p.runReader(gctx, resume, inputs)
	})

	if err := g.Wait(); err != nil {
		// Whatever was buffered but not committed is re-read next run.
		for _, w := range writers {
			if derr := w.Discard(); derr != nil {
				p.logger.Warn("failed to discard in-progress segment", "error", derr)
			}
		}
		return err
	}

	p.logger.Info("range fully consumed", "epoch", p.ckpt.Epoch())
	return nil
}

// runWorker processes one partition's records sequentially.
func (p *Pipeline) runWorker(
	ctx context.Context,
	partition int,
	in <-chan message,
	engine *dedup.Engine,
	store *state.MemStore,
	writer *sink.Writer,
) error {
	for msg := range in {
		if msg.barrier != nil {
			if err := p.workerBarrier(ctx, partition, msg.barrier, store, writer); err != nil {
				return err
			}
			continue
		}

		if !engine.Evaluate(msg.event) {
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordsAccepted.Add(ctx, 1)
		}
		if err := writer.Append(msg.event.Payload); err != nil {
			return err
		}
	}
	return nil
}

// workerBarrier runs one partition's side of the barrier protocol:
// prepare, hand over the snapshot, wait for the commit, publish.
func (p *Pipeline) workerBarrier(
	ctx context.Context,
	partition int,
	b *barrier,
	store *state.MemStore,
	writer *sink.Writer,
) error {
	seg, err := writer.Prepare(b.epoch)
	if err != nil {
		b.acks <- barrierAck{err: err}
		return err
	}

	b.acks <- barrierAck{snap: checkpoint.PartitionSnapshot{
		Partition: partition,
		State:     store.Snapshot(),
		Segment:   seg,
	}}

	select {
	case <-b.commit:
		return writer.Publish(ctx, seg)
	case <-b.abort:
		// The coordinator reports the failure; this worker just stops.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runReader pulls records in position order, extracts and routes them, and
// injects checkpoint barriers, acting as the barrier coordinator.
func (p *Pipeline) runReader(ctx context.Context, resume source.Position, inputs []chan message) error {
	defer func() {
		for _, in := range inputs {
			close(in)
		}
	}()

	records := make(chan source.Record, p.cfg.ChannelBuffer)
	readErr := make(chan error, 1)
	go func() {
		readErr <- p.src.Read(ctx, resume, records)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	next := resume
	srcDone := false

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				if !srcDone {
					if err := <-readErr; err != nil {
						return fmt.Errorf("source read: %w", err)
					}
				}
				// Final barrier commits the tail segment before the
				// pipeline terminates cleanly.
				return p.runBarrier(ctx, inputs, next)
			}
			if p.metrics != nil {
				p.metrics.RecordsRead.Add(ctx, 1)
			}
			ev, err := p.extract.Extract(rec)
			if err != nil {
				return err
			}
			next = rec.Position + 1
			select {
			case inputs[ForKey(ev.Key, len(inputs))] <- message{event: ev}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err := <-readErr:
			srcDone = true
			readErr = nil
			if err != nil {
				return fmt.Errorf("source read: %w", err)
			}
			// A nil read error with the records channel still open does
			// not happen; the source closes the channel first. Loop back
			// to drain it.

		case <-ticker.C:
			if err := p.runBarrier(ctx, inputs, next); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runBarrier injects a barrier into every worker channel, collects the
// aligned snapshots, commits the epoch, and releases the workers to
// publish.
func (p *Pipeline) runBarrier(ctx context.Context, inputs []chan message, resume source.Position) error {
	b := &barrier{
		epoch:  p.ckpt.Epoch() + 1,
		acks:   make(chan barrierAck, len(inputs)),
		commit: make(chan struct{}),
		abort:  make(chan struct{}),
	}

	for _, in := range inputs {
		select {
		case in <- message{barrier: b}:
		case <-ctx.Done():
			close(b.abort)
			return ctx.Err()
		}
	}

	snaps := make([]checkpoint.PartitionSnapshot, 0, len(inputs))
	for range inputs {
		select {
		case ack := <-b.acks:
			if ack.err != nil {
				close(b.abort)
				return ack.err
			}
			snaps = append(snaps, ack.snap)
		case <-ctx.Done():
			close(b.abort)
			return ctx.Err()
		}
	}

	if _, err := p.ckpt.Commit(ctx, resume, snaps); err != nil {
		close(b.abort)
		return err
	}
	close(b.commit)
	return nil
}
