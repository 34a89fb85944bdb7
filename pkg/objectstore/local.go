// Package objectstore provides the local-filesystem ObjectStore
// implementation cmd/deployer constructs at ObjectStoreLocation. None
// of the example dependency set ships a blob-store client (S3, GCS,
// Azure Blob, MinIO): the object store is itself an out-of-scope
// collaborator per the component design, so this is the minimal
// concrete implementation needed to exercise pkg/state.Store against a
// real filesystem rather than a test double.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meridian-iac/deployer/pkg/state"
)

// Local implements state.ObjectStore over a directory on disk. Writes
// are staged to a sibling temp file and renamed into place so a crash
// mid-write never leaves a torn blob for the next run to load.
type Local struct {
	root string
}

// NewLocal constructs a Local store rooted at dir, creating it if
// necessary.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory %s: %w", dir, err)
	}
	return &Local{root: dir}, nil
}

func (l *Local) blobPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("invalid object store key %q", key)
	}
	return filepath.Join(l.root, key+".json"), nil
}

// Get implements state.ObjectStore.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := l.blobPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, state.ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

// Put implements state.ObjectStore, replacing key's blob atomically.
func (l *Local) Put(ctx context.Context, key string, data []byte) error {
	path, err := l.blobPath(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to stage object store write for %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize object store write for %s: %w", key, err)
	}
	return nil
}
