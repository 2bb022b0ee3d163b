package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Symbolic position specifiers.
const (
	SpecEarliest  = "earliest"
	SpecLatest    = "latest"
	SpecUnbounded = "unbounded"
)

// streamInfoer is the subset of jetstream.Stream the resolver needs.
type streamInfoer interface {
	Info(ctx context.Context, opts ...jetstream.StreamInfoOpt) (*jetstream.StreamInfo, error)
}

// ResolveRange turns symbolic start/end specifiers into a concrete Range
// against the current state of the stream. Resolution happens exactly once,
// before reading begins; the resolved range is then fixed for the life of
// the job, including across restarts.
//
// Start accepts "earliest", "latest", or an explicit stream sequence.
// End accepts "unbounded" (or empty), "latest", or an explicit sequence;
// "latest" freezes the range at the stream's tail as of resolution time.
func ResolveRange(ctx context.Context, stream streamInfoer, startSpec, endSpec string) (Range, error) {
	info, err := stream.Info(ctx)
	if err != nil {
		return Range{}, fmt.Errorf("%w: stream info: %w", ErrRangeResolution, err)
	}

	first := Position(info.State.FirstSeq)
	if first == 0 {
		first = 1
	}
	// The first position past the last retained record.
	tail := Position(info.State.LastSeq) + 1

	var r Range

	switch spec := strings.ToLower(strings.TrimSpace(startSpec)); spec {
	case "", SpecEarliest:
		r.Start = first
	case SpecLatest:
		r.Start = tail
	default:
		seq, err := parsePosition(spec)
		if err != nil {
			return Range{}, fmt.Errorf("%w: start position %q: %w", ErrRangeResolution, startSpec, err)
		}
		if seq < first {
			return Range{}, fmt.Errorf("%w: start position %d is no longer retained (earliest is %d)",
				ErrRangeResolution, seq, first)
		}
		if seq > tail {
			return Range{}, fmt.Errorf("%w: start position %d is beyond the stream tail %d",
				ErrRangeResolution, seq, tail)
		}
		r.Start = seq
	}

	switch spec := strings.ToLower(strings.TrimSpace(endSpec)); spec {
	case "", SpecUnbounded:
		r.End = 0
	case SpecLatest:
		r.End = tail
	default:
		seq, err := parsePosition(spec)
		if err != nil {
			return Range{}, fmt.Errorf("%w: end position %q: %w", ErrRangeResolution, endSpec, err)
		}
		r.End = seq
	}

	if r.Bounded() && r.End < r.Start {
		return Range{}, fmt.Errorf("%w: %w: start %d, end %d", ErrRangeResolution, ErrEmptyRange, r.Start, r.End)
	}

	return r, nil
}

// parsePosition parses an explicit position token.
func parsePosition(s string) (Position, error) {
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a valid stream sequence: %w", err)
	}
	if seq == 0 {
		return 0, fmt.Errorf("stream sequences start at 1")
	}
	return Position(seq), nil
}
