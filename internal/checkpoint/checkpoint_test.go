package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/derekm/flink-tools/internal/sink"
	"github.com/derekm/flink-tools/internal/state"
)

type fixture struct {
	dir  string
	db   *state.DB
	ckpt *Checkpointer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := state.Open(filepath.Join(dir, "checkpoints.db"))
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	backend := sink.NewLocalBackend(dir, nil)
	return &fixture{
		dir:  dir,
		db:   db,
		ckpt: New(db, backend, dir, nil, nil),
	}
}

func TestCheckpointer_FreshStart(t *testing.T) {
	f := newFixture(t)

	restored, err := f.ckpt.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Epoch != 0 || restored.Resume != 0 || len(restored.State) != 0 {
		t.Errorf("Restore() = %+v, want zero recovery point", restored)
	}
}

func TestCheckpointer_CommitThenRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snaps := []PartitionSnapshot{
		{Partition: 0, State: map[string]int64{"a": 4}},
		{Partition: 1, State: map[string]int64{"b": 2}},
	}
	epoch, err := f.ckpt.Commit(ctx, 50, snaps)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if epoch != 1 {
		t.Errorf("first epoch = %d, want 1", epoch)
	}
	if f.ckpt.Epoch() != 1 {
		t.Errorf("Epoch() = %d, want 1", f.ckpt.Epoch())
	}

	restored, err := f.ckpt.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Epoch != 1 || restored.Resume != 50 {
		t.Errorf("Restore() epoch=%d resume=%d, want 1, 50", restored.Epoch, restored.Resume)
	}
	if restored.State[0]["a"] != 4 || restored.State[1]["b"] != 2 {
		t.Errorf("Restore() state = %v", restored.State)
	}
}

func TestCheckpointer_RestoreRollsForwardCommittedSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A segment was prepared and its checkpoint committed, but the crash
	// happened before publish: temp file on disk, no final file.
	temp := ".part-0.deadbeef.inprogress"
	if err := os.WriteFile(filepath.Join(f.dir, temp), []byte("r1\nr2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := f.ckpt.Commit(ctx, 10, []PartitionSnapshot{{
		Partition: 0,
		State:     map[string]int64{"a": 2},
		Segment: &sink.Segment{
			Partition: 0, Epoch: 1, TempName: temp,
			FinalName: "part-0-1", Records: 2, Bytes: 6,
		},
	}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	restored, err := f.ckpt.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Epoch != 1 {
		t.Errorf("Restore() epoch = %d, want 1", restored.Epoch)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, "part-0-1"))
	if err != nil {
		t.Fatalf("rolled-forward segment missing: %v", err)
	}
	if string(data) != "r1\nr2\n" {
		t.Errorf("segment content = %q", data)
	}
}

func TestCheckpointer_RestoreDiscardsUncommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Records buffered after the last checkpoint are not committed; their
	// in-progress file must vanish on restore.
	orphan := filepath.Join(f.dir, ".part-1.cafe.inprogress")
	if err := os.WriteFile(orphan, []byte("uncommitted\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ckpt.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("uncommitted in-progress file survived restore")
	}
}

func TestCheckpointer_EpochsIncrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		epoch, err := f.ckpt.Commit(ctx, 5, []PartitionSnapshot{{Partition: 0, State: map[string]int64{}}})
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if epoch != want {
			t.Errorf("epoch = %d, want %d", epoch, want)
		}
	}
}
