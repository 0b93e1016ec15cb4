package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore keeps state blobs as files below a root directory. Metadata is
// written next to each blob as <key>.meta.json.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Save writes data atomically through a temporary file.
func (f *FileStore) Save(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", key, err)
		}
		if err := writeAtomic(path+".meta.json", meta); err != nil {
			return err
		}
	}
	f.logger.Debug("saved state",
		zap.String("key", key),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Load reads the blob saved under key.
func (f *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Metadata reads the metadata saved with key, or nil when none was.
func (f *FileStore) Metadata(key string) (map[string]string, error) {
	path, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path + ".meta.json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", key, err)
	}
	return metadata, nil
}

func (f *FileStore) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

var _ ModelStore = (*FileStore)(nil)
