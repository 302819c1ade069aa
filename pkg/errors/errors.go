// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the tachometer monitor.
//
// Each type carries the failing operation and wraps the underlying error so
// callers can inspect it with errors.As and errors.Is.
//
// # Example Usage
//
//	err := errors.NewDeviceError("set power", "TACH-001", fmt.Errorf("rejected"))
//	if errors.IsDeviceError(err) {
//	    log.Printf("device control failed: %v", err)
//	}
package errors

import (
	"errors"
	"fmt"
)

// DeviceError represents a failure of the device-control collaborator.
type DeviceError struct {
	Op       string // Operation being performed (e.g., "check existence", "set power")
	DeviceID string // Device involved
	Err      error  // Underlying error
}

func (e *DeviceError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("device %s (device=%s): %v", e.Op, e.DeviceID, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("device %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device %s failed", e.Op)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError creates a new device error.
func NewDeviceError(op string, deviceID string, err error) *DeviceError {
	return &DeviceError{Op: op, DeviceID: deviceID, Err: err}
}

// IsDeviceError checks if an error is a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// StorageError represents an error during session persistence or archival.
type StorageError struct {
	Op  string // Operation being performed (e.g., "load", "save", "archive")
	Key string // Storage key or session id (if applicable)
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InsightError represents a failure of the text-generation service.
type InsightError struct {
	Op  string // Operation being performed (e.g., "generate", "decode response")
	Err error  // Underlying error
}

func (e *InsightError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insight %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("insight %s failed", e.Op)
}

func (e *InsightError) Unwrap() error {
	return e.Err
}

// NewInsightError creates a new insight error.
func NewInsightError(op string, err error) *InsightError {
	return &InsightError{Op: op, Err: err}
}

// IsInsightError checks if an error is an InsightError.
func IsInsightError(err error) bool {
	var ie *InsightError
	return errors.As(err, &ie)
}

// Sentinel errors for common conditions
var (
	// ErrDeviceNotFound indicates the selected device does not exist
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDeviceSelected indicates an operation needs a selected device
	ErrNoDeviceSelected = errors.New("no device selected")

	// ErrToggleInFlight indicates a power toggle is already running
	ErrToggleInFlight = errors.New("power toggle already in progress")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates a call was rejected by a client-side limiter
	ErrRateLimited = errors.New("rate limited")
)
