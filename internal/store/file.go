package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileStore keeps one snapshot file per dataset in a directory.
// Writes go to a temporary file that is renamed into place, so a reader
// never observes a partially written snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a dataset id to a file name. Ids are path-escaped so any id,
// including ones containing separators, stays inside dir.
func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, url.PathEscape(id)+snapshotExt)
}

const (
	snapshotExt = ".snapshot"
	tempPrefix  = ".snapshot-"
)

// Get reads the snapshot file for id.
func (f *FileStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", id, err)
	}
	return content, nil
}

// Put atomically replaces the snapshot file for id.
func (f *FileStore) Put(ctx context.Context, id string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot %q: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot %q: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot %q: %w", id, err)
	}

	if err := os.Rename(tmpName, f.path(id)); err != nil {
		return fmt.Errorf("replace snapshot %q: %w", id, err)
	}
	return nil
}

// Datasets returns the ids of the snapshot files in dir in lexical order.
func (f *FileStore) Datasets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), snapshotExt)
		if e.IsDir() || !ok || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		id, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
