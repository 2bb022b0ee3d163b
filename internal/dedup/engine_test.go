package dedup

import (
	"fmt"
	"testing"

	"github.com/derekm/flink-tools/internal/extract"
	"github.com/derekm/flink-tools/internal/state"
)

func event(key string, seq int64) extract.Event {
	return extract.Event{
		Payload:  []byte(fmt.Sprintf(`{"sensorId":%q,"timestamp":%d}`, key, seq)),
		Key:      key,
		Sequence: seq,
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return New(0, state.NewMemStore(), cfg, nil, nil)
}

func TestEngine_StrictlyIncreasingAccepted(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	// seq 1, 3, 5 accepted; 2 arrives after 3 and is dropped
	seqs := []int64{1, 3, 2, 5}
	want := []bool{true, true, false, true}

	for i, seq := range seqs {
		got := e.Evaluate(event("s1", seq))
		if got != want[i] {
			t.Errorf("Evaluate(s1, %d) = %v, want %v", seq, got, want[i])
		}
	}
}

func TestEngine_EqualSequenceIsDuplicate(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	if !e.Evaluate(event("s1", 10)) {
		t.Fatal("first occurrence must be accepted")
	}
	if e.Evaluate(event("s1", 10)) {
		t.Error("equal sequence must be dropped")
	}
}

func TestEngine_KeysAreIndependent(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	if !e.Evaluate(event("a", 100)) {
		t.Error("Evaluate(a, 100) = false, want true")
	}
	// A lower sequence on a different key is not a duplicate.
	if !e.Evaluate(event("b", 1)) {
		t.Error("Evaluate(b, 1) = false, want true")
	}
	if e.Evaluate(event("a", 100)) {
		t.Error("Evaluate(a, 100) again = true, want false")
	}
	if !e.Evaluate(event("b", 2)) {
		t.Error("Evaluate(b, 2) = false, want true")
	}
}

func TestEngine_NegativeSequences(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	// An unseen key accepts any sequence, including negative.
	if !e.Evaluate(event("s1", -100)) {
		t.Error("Evaluate(s1, -100) = false, want true")
	}
	if e.Evaluate(event("s1", -200)) {
		t.Error("Evaluate(s1, -200) = true, want false")
	}
	if !e.Evaluate(event("s1", 0)) {
		t.Error("Evaluate(s1, 0) = false, want true")
	}
}

func TestEngine_RestoredStateSurvives(t *testing.T) {
	store := state.NewMemStoreFrom(map[string]int64{"s1": 50})
	e := New(0, store, DefaultConfig(), nil, nil)

	if e.Evaluate(event("s1", 50)) {
		t.Error("sequence equal to restored state must be dropped")
	}
	if e.Evaluate(event("s1", 49)) {
		t.Error("sequence below restored state must be dropped")
	}
	if !e.Evaluate(event("s1", 51)) {
		t.Error("sequence above restored state must be accepted")
	}
}

func TestEngine_BloomParity(t *testing.T) {
	// The bloom fast path must never change a decision.
	withBloom := newTestEngine(t, Config{BloomEnabled: true, BloomCapacity: 1000, BloomFPRate: 0.01})
	without := newTestEngine(t, Config{BloomEnabled: false})

	events := []extract.Event{
		event("a", 1), event("a", 1), event("b", 5), event("a", 2),
		event("b", 4), event("c", -1), event("c", 0), event("b", 5),
	}

	for i, ev := range events {
		got, want := withBloom.Evaluate(ev), without.Evaluate(ev)
		if got != want {
			t.Errorf("event %d (%s, %d): bloom=%v exact=%v", i, ev.Key, ev.Sequence, got, want)
		}
	}
}

func TestEngine_StateUpdatedOnAccept(t *testing.T) {
	store := state.NewMemStore()
	e := New(0, store, DefaultConfig(), nil, nil)

	e.Evaluate(event("s1", 7))
	if last, ok := store.Get("s1"); !ok || last != 7 {
		t.Errorf("store = (%d, %v), want (7, true)", last, ok)
	}

	// A drop must not move the state.
	e.Evaluate(event("s1", 6))
	if last, _ := store.Get("s1"); last != 7 {
		t.Errorf("store moved to %d on drop, want 7", last)
	}
}
