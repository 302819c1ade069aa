// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package device defines the device-control boundary: checking that a
// tachometer exists and switching its power.
package device

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/logger"
)

// DefaultLatency is the simulated round trip of an existence check.
const DefaultLatency = time.Second

// Controller controls physical tachometers.
type Controller interface {
	// Exists reports whether a device with id is reachable.
	Exists(ctx context.Context, id string) (bool, error)

	// SetPower switches the device on or off.
	SetPower(ctx context.Context, id string, on bool) error
}

// MockController simulates a controller. Every device exists; power changes
// are acknowledged immediately unless FailPower rejects them.
type MockController struct {
	latency time.Duration

	mu sync.Mutex
	// FailPower, when set, is consulted before each SetPower; a non-nil
	// return rejects the request.
	FailPower func(id string, on bool) error
	power     map[string]bool
}

// NewMockController creates a mock with the given existence-check latency.
// A negative latency selects DefaultLatency.
func NewMockController(latency time.Duration) *MockController {
	if latency < 0 {
		latency = DefaultLatency
	}
	return &MockController{
		latency: latency,
		power:   make(map[string]bool),
	}
}

// Exists waits for the simulated latency and reports true for any non-empty id.
func (m *MockController) Exists(ctx context.Context, id string) (bool, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false, apperrors.NewDeviceError("check existence", id, ctx.Err())
		case <-timer.C:
		}
	}

	exists := id != ""
	logger.Debug().Str("device_id", id).Bool("exists", exists).Msg("Checked device")
	return exists, nil
}

// SetPower records the requested state.
func (m *MockController) SetPower(ctx context.Context, id string, on bool) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewDeviceError("set power", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPower != nil {
		if err := m.FailPower(id, on); err != nil {
			return apperrors.NewDeviceError("set power", id, err)
		}
	}

	m.power[id] = on
	logger.Info().Str("device_id", id).Bool("on", on).Msg("Device power set")
	return nil
}

// SetFailPower installs or clears the FailPower hook.
func (m *MockController) SetFailPower(fn func(id string, on bool) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailPower = fn
}

// Power returns the last acknowledged state of id.
func (m *MockController) Power(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power[id]
}
