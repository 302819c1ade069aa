// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage persists recorded sessions.
//
// Sessions live in a single named slot of a key-value backend (a directory of
// files, an SQLite database or Redis). Closed sessions can additionally be
// archived to InfluxDB as time-series points.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a durable key-value slot store.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}
