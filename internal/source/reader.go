package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"
)

// orderedStream is the subset of jetstream.Stream the reader needs.
type orderedStream interface {
	OrderedConsumer(ctx context.Context, cfg jetstream.OrderedConsumerConfig) (jetstream.Consumer, error)
}

// Reader reads a bounded range of a JetStream stream in position order.
// It uses an ordered consumer so that no server-side consumer state is
// created; delivery position is owned entirely by the job's checkpoints.
type Reader struct {
	stream  orderedStream
	rng     Range
	limiter *rate.Limiter
	fetch   int
	logger  *slog.Logger
}

// NewReader creates a reader over the resolved range.
func NewReader(stream orderedStream, rng Range, cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.MaxRecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRecordsPerSecond), 1)
	}

	fetch := cfg.FetchBatchSize
	if fetch < 1 {
		fetch = 256
	}

	return &Reader{
		stream:  stream,
		rng:     rng,
		limiter: limiter,
		fetch:   fetch,
		logger:  logger.With("component", "stream-reader"),
	}
}

// Range returns the resolved range this reader covers.
func (r *Reader) Range() Range {
	return r.rng
}

// Read implements Source. It delivers records from max(from, Start) up to
// the end of the range, closing out on exhaustion.
func (r *Reader) Read(ctx context.Context, from Position, out chan<- Record) error {
	start := from
	if start < r.rng.Start {
		start = r.rng.Start
	}
	if r.rng.Bounded() && start >= r.rng.End {
		close(out)
		return nil
	}

	cons, err := r.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   uint64(start),
	})
	if err != nil {
		return fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	msgs, err := cons.Messages(jetstream.PullMaxMessages(r.fetch))
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}
	defer msgs.Stop()

	// Next blocks without a context; stopping the iterator on cancellation
	// unblocks it with ErrMsgIteratorClosed.
	stopWatch := context.AfterFunc(ctx, msgs.Stop)
	defer stopWatch()

	r.logger.Info("reading stream", "range", r.rng, "from", start)

	next := start
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		msg, err := msgs.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read next message: %w", err)
		}

		meta, err := msg.Metadata()
		if err != nil {
			return fmt.Errorf("failed to read message metadata: %w", err)
		}
		pos := Position(meta.Sequence.Stream)

		// Ordered consumers can replay on reconnect; skip anything the
		// pipeline has already been handed.
		if pos < next {
			continue
		}
		if r.rng.Bounded() && pos >= r.rng.End {
			r.logger.Info("end of range reached", "position", pos, "range", r.rng)
			close(out)
			return nil
		}

		select {
		case out <- Record{Payload: msg.Data(), Position: pos}:
			next = pos + 1
		case <-ctx.Done():
			return ctx.Err()
		}

		// The last in-range position ends the read. A bounded range whose
		// end sits at the stream tail has no past-end message to fetch, so
		// termination cannot wait for one.
		if r.rng.Bounded() && next >= r.rng.End {
			r.logger.Info("end of range reached", "position", pos, "range", r.rng)
			close(out)
			return nil
		}
	}
}
