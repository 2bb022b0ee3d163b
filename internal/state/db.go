package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Register the pure-Go SQLite driver. This does NOT require CGO.
	_ "modernc.org/sqlite"

	"github.com/derekm/flink-tools/internal/source"
)

// SegmentRecord describes one committed output segment in the manifest.
type SegmentRecord struct {
	Epoch     uint64
	Partition int
	TempName  string
	FinalName string
	Records   int64
	Bytes     int64
}

// Checkpoint is one consistent snapshot of the whole pipeline: the epoch,
// the position the reader resumes from, every partition's keyed state, and
// the segments prepared for this epoch.
type Checkpoint struct {
	Epoch    uint64
	Resume   source.Position
	State    map[int]map[string]int64
	Segments []SegmentRecord
}

// DB is the durable checkpoint store, a SQLite database under the job's
// checkpoint directory. A checkpoint either commits fully or leaves no
// trace; a row in the checkpoints table is the commit point.
type DB struct {
	inner *sql.DB
	path  string
}

// Open opens (or creates) the checkpoint database at dbPath with WAL mode
// and busy timeout. Migrations are applied automatically on open.
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("checkpoint database path must not be empty")
	}

	// WAL mode for concurrent access, 5s busy timeout for lock contention.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping checkpoint database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{inner: sqlDB, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Commit durably records a checkpoint in one transaction. Keyed state is
// replace-style: keys are only ever added or raised, never removed, so the
// current table content always equals the state as of the latest committed
// epoch.
func (db *DB) Commit(ctx context.Context, cp Checkpoint) error {
	tx, err := db.inner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint %d: %w", cp.Epoch, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (epoch, resume_pos, created_at) VALUES (?, ?, ?)`,
		cp.Epoch, uint64(cp.Resume), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record checkpoint %d: %w", cp.Epoch, err)
	}

	stateStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO keyed_state (partition_id, key, last_seq) VALUES (?, ?, ?)
		ON CONFLICT (partition_id, key) DO UPDATE SET last_seq = excluded.last_seq
	`)
	if err != nil {
		return fmt.Errorf("prepare state upsert: %w", err)
	}
	defer stateStmt.Close()

	for partition, entries := range cp.State {
		for key, seq := range entries {
			if _, err := stateStmt.ExecContext(ctx, partition, key, seq); err != nil {
				return fmt.Errorf("write state for partition %d: %w", partition, err)
			}
		}
	}

	for _, seg := range cp.Segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (epoch, partition_id, temp_name, final_name, records, bytes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cp.Epoch, seg.Partition, seg.TempName, seg.FinalName, seg.Records, seg.Bytes,
		); err != nil {
			return fmt.Errorf("record segment %s: %w", seg.FinalName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint %d: %w", cp.Epoch, err)
	}
	return nil
}

// Last returns the latest committed checkpoint, or ok=false if no
// checkpoint has ever completed.
func (db *DB) Last(ctx context.Context) (Checkpoint, bool, error) {
	var cp Checkpoint
	err := db.inner.QueryRowContext(ctx,
		`SELECT epoch, resume_pos FROM checkpoints ORDER BY epoch DESC LIMIT 1`,
	).Scan(&cp.Epoch, &cp.Resume)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read latest checkpoint: %w", err)
	}

	cp.State = make(map[int]map[string]int64)
	rows, err := db.inner.QueryContext(ctx, `SELECT partition_id, key, last_seq FROM keyed_state`)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read keyed state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var partition int
		var key string
		var seq int64
		if err := rows.Scan(&partition, &key, &seq); err != nil {
			return Checkpoint{}, false, fmt.Errorf("scan keyed state: %w", err)
		}
		if cp.State[partition] == nil {
			cp.State[partition] = make(map[string]int64)
		}
		cp.State[partition][key] = seq
	}
	if err := rows.Err(); err != nil {
		return Checkpoint{}, false, fmt.Errorf("iterate keyed state: %w", err)
	}

	segRows, err := db.inner.QueryContext(ctx, `
		SELECT epoch, partition_id, temp_name, final_name, records, bytes
		FROM segments WHERE epoch = ?`, cp.Epoch)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read segment manifest: %w", err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var seg SegmentRecord
		if err := segRows.Scan(&seg.Epoch, &seg.Partition, &seg.TempName, &seg.FinalName, &seg.Records, &seg.Bytes); err != nil {
			return Checkpoint{}, false, fmt.Errorf("scan segment manifest: %w", err)
		}
		cp.Segments = append(cp.Segments, seg)
	}
	if err := segRows.Err(); err != nil {
		return Checkpoint{}, false, fmt.Errorf("iterate segment manifest: %w", err)
	}

	return cp, true, nil
}

// CommittedSegments returns the final names of every segment ever
// committed, across all epochs.
func (db *DB) CommittedSegments(ctx context.Context) ([]string, error) {
	rows, err := db.inner.QueryContext(ctx, `SELECT final_name FROM segments ORDER BY epoch, partition_id`)
	if err != nil {
		return nil, fmt.Errorf("read committed segments: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan committed segment: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
