// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Command tachometer-monitor serves the tachometer monitoring dashboard API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soothill/tachometer-monitor/app"
	"github.com/soothill/tachometer-monitor/config"
	"github.com/soothill/tachometer-monitor/pkg/logger"
)

const defaultDemoDuration = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	demo := flag.Bool("demo", false, "Run one power cycle on the first configured device and exit")
	demoDuration := flag.Duration("demo-duration", defaultDemoDuration, "How long the demo keeps the device powered on")
	flag.Parse()

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath, os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)
	logger.Info().Msg("Starting Tachometer Monitor")
	logger.Info().
		Strs("static_devices", cfg.Device.StaticIDs).
		Bool("discovery", cfg.Device.DiscoveryEnabled).
		Str("store_backend", cfg.Store.Backend).
		Bool("archive", cfg.InfluxDB.Enabled()).
		Dur("stream_interval", cfg.Stream.Interval).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *demo {
		os.Exit(runDemo(ctx, application, cfg, *demoDuration))
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Application stopped with error")
	}
}

// runDemo runs a single monitoring cycle and returns the exit code.
func runDemo(ctx context.Context, application *app.App, cfg *config.Config, d time.Duration) int {
	defer application.Close()

	if len(cfg.Device.StaticIDs) == 0 {
		logger.Error().Msg("Demo needs at least one device in device.static_ids")
		return 1
	}
	deviceID := cfg.Device.StaticIDs[0]
	logger.Info().Str("device_id", deviceID).Dur("duration", d).Msg("Running demo cycle")

	if err := application.RunDemo(ctx, deviceID, d); err != nil {
		logger.Error().Err(err).Msg("Demo failed")
		return 1
	}
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string, out io.Writer) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(out, "\nConfiguration validation FAILED\n%v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(out, "\nConfiguration validation FAILED\nError: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, "\nConfiguration validation PASSED")
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Static Devices: %v\n", cfg.Device.StaticIDs)
	fmt.Fprintf(out, "  Device Latency: %s\n", cfg.Device.Latency)
	if cfg.Device.DiscoveryEnabled {
		fmt.Fprintf(out, "  Discovery: %s in %s every %s\n", cfg.Device.ServiceType, cfg.Device.Domain, cfg.Device.DiscoveryInterval)
	} else {
		fmt.Fprintln(out, "  Discovery: Disabled")
	}
	fmt.Fprintf(out, "  Stream Interval: %s\n", cfg.Stream.Interval)
	fmt.Fprintf(out, "  Store Backend: %s\n", cfg.Store.Backend)
	if cfg.InfluxDB.Enabled() {
		fmt.Fprintf(out, "  InfluxDB Archive: %s (org %s, bucket %s)\n", cfg.InfluxDB.URL, cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	} else {
		fmt.Fprintln(out, "  InfluxDB Archive: Disabled")
	}
	fmt.Fprintf(out, "  Insight Model: %s (API key set: %t)\n", cfg.Insight.Model, cfg.Insight.APIKey != "")
	fmt.Fprintf(out, "  HTTP Address: %s\n", cfg.HTTP.Address)
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Logging.Level)
	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Fprintln(out, "  Slack Notifications: Enabled")
	} else {
		fmt.Fprintln(out, "  Slack Notifications: Disabled")
	}

	fmt.Fprintln(out, "\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
