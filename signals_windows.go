// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/soothill/tachometer-monitor/app"
	"github.com/soothill/tachometer-monitor/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows, which has no SIGUSR1 or
// SIGUSR2. GET /api/live and /metrics expose the same state.
func setupDebugSignalHandlers(_ *app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
