// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnTrigger(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	configs := make(chan *Config, 1)
	w := NewWatcher(path, configs)
	w.Start(context.Background())
	defer w.Stop()

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w.Trigger()

	select {
	case cfg := <-configs:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no configuration published after trigger")
	}
}

func TestWatcher_KeepsCurrentOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: nonsense\n")

	configs := make(chan *Config, 1)
	w := NewWatcher(path, configs)
	w.Start(context.Background())
	defer w.Stop()

	w.Trigger()

	select {
	case cfg := <-configs:
		t.Fatalf("invalid configuration was published: %+v", cfg.Logging)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher("unused.yaml", make(chan *Config))
	w.Stop()
}
