// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package util holds small filesystem helpers shared by config and storage.
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadFileSafely reads a regular file after resolving it to an absolute path.
// Directories are rejected.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", absPath)
	}

	return os.ReadFile(absPath) // #nosec G304
}
