// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/soothill/tachometer-monitor/pkg/logger"
)

const (
	createKVTableSQL = `
	   CREATE TABLE IF NOT EXISTS kv (
	       key        TEXT PRIMARY KEY,
	       value      BLOB NOT NULL,
	       updated_at INTEGER NOT NULL
	   );`

	selectKVSQL = `SELECT value FROM kv WHERE key = ?`

	upsertKVSQL = `
    INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
    ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	deleteKVSQL = `DELETE FROM kv WHERE key = ?`
)

// SQLiteKV stores slots in a single SQLite table.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (or creates) the database at path.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite store initialized")
	return &SQLiteKV{db: db}, nil
}

// Get returns the stored value.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, selectKVSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return value, nil
}

// Set upserts the value.
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertKVSQL, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

// Delete removes the row.
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteKVSQL, key); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
