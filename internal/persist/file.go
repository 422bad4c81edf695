package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SnapshotFile is the name of the snapshot inside the backup directory.
const SnapshotFile = "subscribers.json"

// FileBackend keeps the latest snapshot in a single JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend stores snapshots in dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("file backend: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackend{path: filepath.Join(dir, SnapshotFile)}, nil
}

// OpenFile returns a backend reading and writing exactly path.
func OpenFile(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the snapshot file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the snapshot file.
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save replaces the snapshot file. The new content is written to a
// temporary file first so a crash never leaves a truncated snapshot.
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
