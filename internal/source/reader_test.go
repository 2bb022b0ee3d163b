package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeMsg struct {
	jetstream.Msg
	seq  uint64
	data []byte
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{Sequence: jetstream.SequencePair{Stream: m.seq}}, nil
}

// fakeMessages delivers its messages in order, then blocks the way a live
// consumer does when it reaches the stream tail, until stopped.
type fakeMessages struct {
	msgs    []*fakeMsg
	stop    sync.Once
	stopped chan struct{}
}

func (f *fakeMessages) Next() (jetstream.Msg, error) {
	if len(f.msgs) == 0 {
		<-f.stopped
		return nil, jetstream.ErrMsgIteratorClosed
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeMessages) Stop()  { f.stop.Do(func() { close(f.stopped) }) }
func (f *fakeMessages) Drain() { f.Stop() }

type fakeConsumer struct {
	jetstream.Consumer
	msgs *fakeMessages
}

func (c *fakeConsumer) Messages(_ ...jetstream.PullMessagesOpt) (jetstream.MessagesContext, error) {
	return c.msgs, nil
}

// fakeOrderedStream hands out consumers over a fixed message sequence,
// honoring the start sequence the reader asks for.
type fakeOrderedStream struct {
	msgs []*fakeMsg
}

func (s *fakeOrderedStream) OrderedConsumer(_ context.Context, cfg jetstream.OrderedConsumerConfig) (jetstream.Consumer, error) {
	held := make([]*fakeMsg, 0, len(s.msgs))
	for _, m := range s.msgs {
		if m.seq >= cfg.OptStartSeq {
			held = append(held, m)
		}
	}
	return &fakeConsumer{msgs: &fakeMessages{msgs: held, stopped: make(chan struct{})}}, nil
}

// collect drains out until it closes, failing the test if Read never
// terminates.
func collect(t *testing.T, out <-chan Record) []Position {
	t.Helper()
	deadline := time.After(2 * time.Second)
	var got []Position
	for {
		select {
		case rec, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, rec.Position)
		case <-deadline:
			t.Fatalf("Read did not terminate; delivered %v so far", got)
		}
	}
}

func TestReader_ExhaustedRangeClosesImmediately(t *testing.T) {
	// Resuming at or past the end of a bounded range means there is
	// nothing left to read; no consumer is ever created.
	r := NewReader(nil, Range{Start: 5, End: 10}, Config{}, nil)

	out := make(chan Record)
	done := make(chan error, 1)
	go func() {
		done <- r.Read(context.Background(), 10, out)
	}()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("received a record past the end of the range")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not close the output channel")
	}
	if err := <-done; err != nil {
		t.Errorf("Read() error = %v", err)
	}
}

func TestReader_BoundedEndAtStreamTail(t *testing.T) {
	// "latest" resolves the end to LastSeq+1, so the last in-range record
	// is the last record the stream holds. No message past the end ever
	// arrives; the read must still close out and return.
	stream := &fakeOrderedStream{msgs: []*fakeMsg{
		{seq: 1, data: []byte("r1")},
		{seq: 2, data: []byte("r2")},
		{seq: 3, data: []byte("r3")},
	}}
	r := NewReader(stream, Range{Start: 1, End: 4}, Config{}, nil)

	out := make(chan Record)
	done := make(chan error, 1)
	go func() { done <- r.Read(context.Background(), 1, out) }()

	got := collect(t, out)
	if err := <-done; err != nil {
		t.Errorf("Read() error = %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delivered positions = %v, want [1 2 3]", got)
	}
}

func TestReader_ResumeMidRange(t *testing.T) {
	stream := &fakeOrderedStream{msgs: []*fakeMsg{
		{seq: 1, data: []byte("r1")},
		{seq: 2, data: []byte("r2")},
		{seq: 3, data: []byte("r3")},
		{seq: 4, data: []byte("r4")},
	}}
	r := NewReader(stream, Range{Start: 1, End: 5}, Config{}, nil)

	out := make(chan Record)
	done := make(chan error, 1)
	go func() { done <- r.Read(context.Background(), 3, out) }()

	got := collect(t, out)
	if err := <-done; err != nil {
		t.Errorf("Read() error = %v", err)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("delivered positions = %v, want [3 4]", got)
	}
}

func TestReader_SkipsReplayedPositions(t *testing.T) {
	// An ordered consumer can replay earlier sequences after a reconnect;
	// replays must not be handed to the pipeline twice.
	stream := &fakeOrderedStream{msgs: []*fakeMsg{
		{seq: 1, data: []byte("r1")},
		{seq: 2, data: []byte("r2")},
		{seq: 1, data: []byte("r1")},
		{seq: 2, data: []byte("r2")},
		{seq: 3, data: []byte("r3")},
	}}
	r := NewReader(stream, Range{Start: 1, End: 4}, Config{}, nil)

	out := make(chan Record)
	done := make(chan error, 1)
	go func() { done <- r.Read(context.Background(), 1, out) }()

	got := collect(t, out)
	if err := <-done; err != nil {
		t.Errorf("Read() error = %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delivered positions = %v, want [1 2 3]", got)
	}
}

func TestReader_RangeAccessor(t *testing.T) {
	rng := Range{Start: 3, End: 9}
	r := NewReader(nil, rng, Config{}, nil)
	if r.Range() != rng {
		t.Errorf("Range() = %v, want %v", r.Range(), rng)
	}
}
