// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the tachometer monitor together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/soothill/tachometer-monitor/api"
	"github.com/soothill/tachometer-monitor/config"
	"github.com/soothill/tachometer-monitor/dashboard"
	"github.com/soothill/tachometer-monitor/device"
	"github.com/soothill/tachometer-monitor/discovery"
	"github.com/soothill/tachometer-monitor/insight"
	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/notifications"
	"github.com/soothill/tachometer-monitor/storage"
	"github.com/soothill/tachometer-monitor/telemetry"
	"github.com/soothill/tachometer-monitor/view"
)

const (
	alertContextTimeout = 5 * time.Second
	storeLoadTimeout    = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
	idleTimeout         = 120 * time.Second
)

// App represents the main application
type App struct {
	cfg        *config.Config
	configPath string

	kv         storage.KV
	store      *storage.SessionStore
	influx     *storage.InfluxArchive
	archive    *storage.SpoolingArchive
	controller *device.MockController
	streamer   *telemetry.Streamer
	gemini     *insight.GeminiClient
	notifier   *notifications.Notifier
	scanner    *discovery.Scanner
	dash       *dashboard.Dashboard
	server     *http.Server

	wg sync.WaitGroup
}

// New creates a new application instance
func New(cfg *config.Config, configPath string) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath}

	a.notifier = notifications.New(cfg.Notifications.SlackWebhookURL,
		notifications.WithSessionAlerts(cfg.Notifications.SessionAlerts))
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	kv, err := openKV(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.kv = kv
	a.store = storage.NewSessionStore(kv)

	loadCtx, cancel := context.WithTimeout(context.Background(), storeLoadTimeout)
	sessions := a.store.Load(loadCtx)
	cancel()
	logger.Info().Str("backend", cfg.Store.Backend).Int("sessions", len(sessions)).Msg("Session store loaded")

	a.initArchive()

	a.controller = device.NewMockController(cfg.Device.Latency)
	a.streamer = telemetry.NewStreamer(nil, cfg.Stream.Interval)
	a.gemini = insight.NewGeminiClient(cfg.Insight.APIKey,
		insight.WithBaseURL(cfg.Insight.BaseURL),
		insight.WithModel(cfg.Insight.Model),
		insight.WithTimeout(cfg.Insight.Timeout),
		insight.WithRateLimit(cfg.Insight.RateLimit, cfg.Insight.Burst),
	)
	if !a.gemini.IsEnabled() {
		logger.Warn().Msg("No Gemini API key configured, insight requests will fail")
	}

	a.scanner = discovery.NewScanner(cfg.Device.ServiceType, cfg.Device.Domain)

	deps := dashboard.Deps{
		Controller: a.controller,
		Streamer:   a.streamer,
		Store:      a.store,
		Insights:   insight.NewRequester(a.gemini),
		Notifier:   a.notifier,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	a.dash = dashboard.New(deps)

	a.server = &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	return a, nil
}

// openKV opens the configured persistence backend.
func openKV(cfg config.StoreConfig) (storage.KV, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return storage.NewFileKV(cfg.Directory)
	case config.BackendSQLite:
		return storage.NewSQLiteKV(cfg.SQLitePath)
	case config.BackendRedis:
		r := cfg.Redis
		return storage.NewRedisKV(r.Addr, r.Username, r.Password, r.DB, r.Prefix)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// initArchive connects the InfluxDB archive when configured. An unreachable
// archive at startup is logged and the monitor runs without one.
func (a *App) initArchive() {
	ic := a.cfg.InfluxDB
	if !ic.Enabled() {
		logger.Info().Msg("InfluxDB archive disabled")
		return
	}

	influx, err := storage.NewInfluxArchive(ic.URL, ic.Token, ic.Organization, ic.Bucket)
	if err != nil {
		logger.Error().Err(err).Msg("InfluxDB archive unavailable, continuing without it")
		return
	}

	spool, err := storage.NewSpool(ic.SpoolDirectory, ic.SpoolMaxSize, ic.SpoolMaxAge)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create archive spool, continuing without archive")
		influx.Close()
		return
	}
	logger.Info().Str("directory", ic.SpoolDirectory).
		Int64("max_size_mb", ic.SpoolMaxSize/(1024*1024)).
		Dur("max_age", ic.SpoolMaxAge).
		Msg("Archive spool initialized")

	a.influx = influx
	a.archive = storage.NewSpoolingArchive(influx, spool, a.notifier)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	var opts []api.Option
	if a.cfg.Device.DiscoveryEnabled {
		opts = append(opts, api.WithDiscovery(a.scanner))
	}
	if a.archive != nil {
		opts = append(opts, api.WithReadiness(a.archive), api.WithArchiveReader(a.influx))
	}
	return api.NewServer(a.dash, a.cfg.Device.StaticIDs, opts...).Router()
}

// Dashboard returns the monitoring controller.
func (a *App) Dashboard() *dashboard.Dashboard {
	return a.dash
}

// Run serves the API until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting HTTP API, metrics and health check server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if a.cfg.Device.DiscoveryEnabled {
		a.startDiscovery(ctx)
	}
	a.startConfigWatcher(ctx)

	var err error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err = <-serverErr:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	a.shutdown()
	return err
}

// startDiscovery runs periodic mDNS discovery until ctx is cancelled.
func (a *App) startDiscovery(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scanner.Run(ctx, a.cfg.Device.DiscoveryInterval, a.cfg.Device.DiscoveryTimeout, func(err error) {
			if !a.notifier.IsEnabled() {
				return
			}
			alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertContextTimeout)
			defer cancel()
			if notifyErr := a.notifier.SendDiscoveryFailure(alertCtx, err); notifyErr != nil {
				logger.Error().Err(notifyErr).Msg("Failed to send discovery failure alert")
			}
		})
		logger.Info().Msg("Discovery loop stopped")
	}()
}

// startConfigWatcher applies configuration reloaded on SIGHUP.
func (a *App) startConfigWatcher(ctx context.Context) {
	configChan := make(chan *config.Config)
	watcher := config.NewWatcher(a.configPath, configChan)
	watcher.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case cfg := <-configChan:
				a.applyConfig(cfg)
			}
		}
	}()
}

// applyConfig updates the settings that can change without a restart: log
// level, insight credentials and model, and the alert webhook.
func (a *App) applyConfig(cfg *config.Config) {
	previous := logger.Level()
	logger.SetLevel(cfg.Logging.Level)
	if current := logger.Level(); current != previous {
		logger.Info().Str("from", previous.String()).Str("to", current.String()).Msg("Log level changed")
	}
	a.gemini.Update(cfg.Insight.APIKey, cfg.Insight.Model)
	a.notifier.UpdateWebhookURL(cfg.Notifications.SlackWebhookURL)
	logger.Info().
		Str("log_level", cfg.Logging.Level).
		Str("insight_model", cfg.Insight.Model).
		Bool("insight_enabled", a.gemini.IsEnabled()).
		Bool("notifications_enabled", a.notifier.IsEnabled()).
		Msg("Application configuration updated")
}

// shutdown stops the server, records any open session and closes storage.
func (a *App) shutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.dash.Shutdown(ctx)

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	a.Close()
	logger.Info().Msg("All goroutines finished, exiting")
}

// Close releases storage and stream resources. Run calls it on shutdown.
func (a *App) Close() {
	a.streamer.Stop()
	if a.archive != nil {
		a.archive.Close()
	}
	if err := a.kv.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}
}

// RunDemo drives one monitoring cycle on deviceID without the HTTP API:
// select the device, power it on, watch it for d, ask for insights, power it
// off and report the recorded session.
func (a *App) RunDemo(ctx context.Context, deviceID string, d time.Duration) error {
	for _, action := range []view.Action{view.Enter, view.GetStarted} {
		if _, err := a.dash.Navigate(action); err != nil {
			return err
		}
	}
	if err := a.dash.SelectDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("select %s: %w", deviceID, err)
	}
	if err := a.dash.TogglePower(ctx, true); err != nil {
		return fmt.Errorf("power on %s: %w", deviceID, err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(d):
	}

	snap := a.dash.Live()
	logger.Info().
		Str("device_id", snap.DeviceID).
		Int("current_rpm", snap.CurrentRPM).
		Int("avg_rpm", snap.AvgRPM).
		Int("max_rpm", snap.MaxRPM).
		Int("buffered", len(snap.Readings)).
		Msg("Live snapshot")

	logger.Info().Str("text", a.dash.Insights(context.WithoutCancel(ctx))).Msg("Insights")

	if err := a.dash.TogglePower(context.WithoutCancel(ctx), false); err != nil {
		return fmt.Errorf("power off %s: %w", deviceID, err)
	}

	if sessions := a.dash.Sessions(); len(sessions) > 0 {
		s := sessions[0]
		logger.Info().
			Str("session_id", s.ID).
			Int64("duration_s", s.Duration).
			Int("avg_rpm", s.AvgRPM).
			Int("max_rpm", s.MaxRPM).
			Int("min_rpm", s.MinRPM).
			Int("total_sessions", len(sessions)).
			Msg("Session recorded")
	}
	return nil
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	snap := a.dash.Live()
	logger.Info().
		Str("view", snap.View.String()).
		Str("device_id", snap.DeviceID).
		Str("status", string(snap.Status)).
		Bool("is_on", snap.IsOn).
		Int("buffered", len(snap.Readings)).
		Msg("Dashboard state")

	logger.Info().Int("sessions", len(a.dash.Sessions())).Bool("archive", a.archive != nil).Msg("Storage state")
	if a.archive != nil {
		logger.Info().Bool("spooling", a.archive.Spooling()).Msg("Archive state")
	}

	for _, d := range a.scanner.Devices() {
		logger.Info().
			Str("device_id", d.ID()).
			Str("device_name", d.Name).
			Str("model", d.Model()).
			Bool("power_control", d.HasPowerControl()).
			Msg("Discovered device")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
