// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/soothill/tachometer-monitor/pkg/logger"
)

const (
	defaultDataDir = "/var/lib/tachometer-monitor"
	slotFileExt    = ".json"
	slotFilePerm   = 0o600
	dataDirPerm    = 0o755
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileKV stores each key in its own file under a directory.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV creates the directory if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		dir = defaultDataDir
	}

	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger.Info().Str("directory", dir).Msg("File store initialized")
	return &FileKV{dir: dir}, nil
}

// Get reads the file for key.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(path) // #nosec G304 -- key is validated
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// Set writes value to a temporary file and renames it over the slot, so a
// reader never sees a partial write.
func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, slotFilePerm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	logger.Debug().Str("key", key).Int("bytes", len(value)).Msg("Wrote slot file")
	return nil
}

// Delete removes the file for key.
func (f *FileKV) Delete(_ context.Context, key string) error {
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Close is a no-op.
func (f *FileKV) Close() error {
	return nil
}

// pathFor maps a key to its slot file.
func (f *FileKV) pathFor(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.dir, key+slotFileExt), nil
}
