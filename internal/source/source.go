// Package source provides bounded, position-tracked reading of a NATS
// JetStream event stream. A Position is the JetStream stream sequence of a
// record; a Range bounds a read between two resolved positions.
package source

import (
	"context"
	"fmt"
)

// Position identifies a point in the input stream. Positions are totally
// ordered by integer comparison. The zero value means "unset".
type Position uint64

// Record is one raw event read from the stream together with its position.
type Record struct {
	Payload  []byte
	Position Position
}

// Range bounds a read. Start is inclusive. End is exclusive; End == 0 means
// the range is unbounded.
type Range struct {
	Start Position
	End   Position
}

// Bounded reports whether the range has an end position.
func (r Range) Bounded() bool {
	return r.End != 0
}

// Contains reports whether a record at position p falls inside the range.
func (r Range) Contains(p Position) bool {
	return p >= r.Start && (r.End == 0 || p < r.End)
}

func (r Range) String() string {
	if r.Bounded() {
		return fmt.Sprintf("[%d, %d)", r.Start, r.End)
	}
	return fmt.Sprintf("[%d, unbounded)", r.Start)
}

// Source yields raw records with positions, in position order.
type Source interface {
	// Range returns the resolved range this source reads.
	Range() Range

	// Read delivers records with positions in [from, Range().End) on out,
	// in order, and closes out when a bounded range is exhausted. It
	// returns nil on exhaustion and a non-nil error if reading fails or
	// ctx is cancelled. from below Range().Start is clamped to Start.
	Read(ctx context.Context, from Position, out chan<- Record) error
}
