// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/soothill/tachometer-monitor/pkg/logger"
)

// Watcher reloads the configuration file on SIGHUP and publishes each
// successfully loaded Config.
type Watcher struct {
	path       string
	configChan chan<- *Config
	reloadChan chan os.Signal
	load       func(string) (*Config, error)

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(path string, configChan chan<- *Config) *Watcher {
	return &Watcher{
		path:       path,
		configChan: configChan,
		reloadChan: make(chan os.Signal, 1),
		load:       Load,
	}
}

// Start begins watching for SIGHUP signals to trigger a configuration reload.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, w.cancelFunc = context.WithCancel(ctx)
	w.done = make(chan struct{})
	signal.Notify(w.reloadChan, syscall.SIGHUP)

	go w.watch(ctx, w.done)
}

// Stop stops the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancelFunc, w.done
	w.mu.Unlock()

	signal.Stop(w.reloadChan)
	if cancel != nil {
		cancel()
		<-done
	}
}

// Trigger requests a reload as if SIGHUP had been received.
func (w *Watcher) Trigger() {
	select {
	case w.reloadChan <- syscall.SIGHUP:
	default:
	}
}

func (w *Watcher) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reloadChan:
			logger.Info().Str("path", w.path).Msg("Reloading configuration")
			cfg, err := w.load(w.path)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to reload configuration, keeping current settings")
				continue
			}
			select {
			case w.configChan <- cfg:
				logger.Info().Msg("Configuration reloaded")
			case <-ctx.Done():
				return
			}
		}
	}
}
