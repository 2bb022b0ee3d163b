package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend is the storage a committed segment is published to. Publish must
// be atomic: after it returns, the segment is fully visible under its final
// name; before it returns, not at all. Recover must be idempotent so that
// recovery can replay it after a crash between checkpoint commit and
// publish.
type Backend interface {
	Publish(ctx context.Context, tempPath, finalName string) error
	Recover(ctx context.Context, tempPath, finalName string) error
}

// LocalBackend publishes segments by renaming the prepared temp file into
// place in the output directory. Rename within one directory is atomic on
// POSIX file systems.
type LocalBackend struct {
	dir    string
	logger *slog.Logger
}

// NewLocalBackend creates a backend publishing into dir.
func NewLocalBackend(dir string, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{dir: dir, logger: logger.With("component", "local-backend")}
}

// Publish renames the temp file to its final name and syncs the directory
// so the rename survives power loss.
func (b *LocalBackend) Publish(ctx context.Context, tempPath, finalName string) error {
	finalPath := filepath.Join(b.dir, finalName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return err
	}
	return syncDir(b.dir)
}

// Recover completes an interrupted publish. A committed segment whose final
// file already exists needs nothing; one whose temp file still exists is
// renamed now; one with neither is lost and recovery fails.
func (b *LocalBackend) Recover(ctx context.Context, tempPath, finalName string) error {
	finalPath := filepath.Join(b.dir, finalName)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}
	if _, err := os.Stat(tempPath); err != nil {
		return fmt.Errorf("%w: %s", ErrSegmentLost, finalName)
	}
	b.logger.Info("rolling forward committed segment", "name", finalName)
	return b.Publish(ctx, tempPath, finalName)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
