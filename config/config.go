// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the tachometer monitor.
//
// Configuration is read from a YAML file, then overridden from the
// environment. A .env file next to the working directory is loaded first if
// present, so local secrets (GEMINI_API_KEY, INFLUXDB_TOKEN) need not live in
// the YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/soothill/tachometer-monitor/discovery"
	"github.com/soothill/tachometer-monitor/insight"
	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/util"
	"github.com/soothill/tachometer-monitor/telemetry"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Stream        StreamConfig        `yaml:"stream"`
	Store         StoreConfig         `yaml:"store"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Insight       InsightConfig       `yaml:"insight"`
	HTTP          HTTPConfig          `yaml:"http"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DeviceConfig lists devices and controls mDNS discovery.
type DeviceConfig struct {
	StaticIDs         []string      `yaml:"static_ids" validate:"dive,required"`
	Latency           time.Duration `yaml:"latency" validate:"gte=0,lte=30s"`
	DiscoveryEnabled  bool          `yaml:"discovery_enabled"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval" validate:"gte=1s,lte=24h"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout" validate:"gte=1s,lte=5m"`
	ServiceType       string        `yaml:"service_type" validate:"required,startswith=_"`
	Domain            string        `yaml:"domain" validate:"required,endswith=."`
}

// StreamConfig controls the live telemetry stream.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=50ms,lte=1m"`
}

// StoreConfig selects where recorded sessions are persisted.
type StoreConfig struct {
	Backend    string      `yaml:"backend" validate:"oneof=file sqlite redis"`
	Directory  string      `yaml:"directory" validate:"required_if=Backend file"`
	SQLitePath string      `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0,lte=15"`
	Prefix   string `yaml:"prefix"`
}

// InfluxDBConfig holds InfluxDB connection settings. The archive is disabled
// when URL is empty.
type InfluxDBConfig struct {
	URL            string        `yaml:"url" validate:"omitempty,url"`
	Token          string        `yaml:"token" validate:"required_with=URL,omitempty,min=8"`
	Organization   string        `yaml:"organization" validate:"required_with=URL"`
	Bucket         string        `yaml:"bucket" validate:"required_with=URL"`
	SpoolDirectory string        `yaml:"spool_directory"`
	SpoolMaxSize   int64         `yaml:"spool_max_size" validate:"gte=0"`
	SpoolMaxAge    time.Duration `yaml:"spool_max_age" validate:"gte=0"`
}

// Enabled reports whether the archive is configured.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// InsightConfig configures the generative analysis client.
type InsightConfig struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model" validate:"required"`
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=1s,lte=5m"`
	RateLimit float64       `yaml:"rate_limit" validate:"gt=0"`
	Burst     int           `yaml:"burst" validate:"gte=1"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Address string `yaml:"address" validate:"required,hostname_port"`
}

// NotificationsConfig holds alert settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
	SessionAlerts   bool   `yaml:"session_alerts"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	stringOverrides := []struct {
		env    string
		target *string
	}{
		{"STORE_BACKEND", &c.Store.Backend},
		{"STORE_DIRECTORY", &c.Store.Directory},
		{"STORE_SQLITE_PATH", &c.Store.SQLitePath},
		{"REDIS_ADDR", &c.Store.Redis.Addr},
		{"REDIS_PASSWORD", &c.Store.Redis.Password},
		{"INFLUXDB_URL", &c.InfluxDB.URL},
		{"INFLUXDB_TOKEN", &c.InfluxDB.Token},
		{"INFLUXDB_ORG", &c.InfluxDB.Organization},
		{"INFLUXDB_BUCKET", &c.InfluxDB.Bucket},
		{"GEMINI_API_KEY", &c.Insight.APIKey},
		{"GEMINI_MODEL", &c.Insight.Model},
		{"HTTP_ADDRESS", &c.HTTP.Address},
		{"SLACK_WEBHOOK_URL", &c.Notifications.SlackWebhookURL},
		{"LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range stringOverrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	if ids := os.Getenv("DEVICE_IDS"); ids != "" {
		c.Device.StaticIDs = splitList(ids)
	}
	if v := os.Getenv("DEVICE_DISCOVERY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err == nil {
			c.Device.DiscoveryEnabled = enabled
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse DEVICE_DISCOVERY '%s': %v\n", v, err)
		}
	}

	durationOverrides := []struct {
		env    string
		target *time.Duration
	}{
		{"DEVICE_DISCOVERY_INTERVAL", &c.Device.DiscoveryInterval},
		{"STREAM_INTERVAL", &c.Stream.Interval},
	}
	for _, o := range durationOverrides {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse %s '%s': %v\n", o.env, v, err)
			continue
		}
		*o.target = d
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if len(c.Device.StaticIDs) == 0 {
		c.Device.StaticIDs = []string{"TACH-001", "TACH-002", "TACH-003"}
	}
	if c.Device.Latency == 0 {
		c.Device.Latency = time.Second
	}
	if c.Device.DiscoveryInterval == 0 {
		c.Device.DiscoveryInterval = 5 * time.Minute
	}
	if c.Device.DiscoveryTimeout == 0 {
		c.Device.DiscoveryTimeout = 10 * time.Second
	}
	if c.Device.ServiceType == "" {
		c.Device.ServiceType = discovery.DefaultServiceType
	}
	if c.Device.Domain == "" {
		c.Device.Domain = discovery.DefaultDomain
	}
	if c.Stream.Interval == 0 {
		c.Stream.Interval = telemetry.DefaultInterval
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Directory == "" {
		c.Store.Directory = "/var/lib/tachometer-monitor"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "/var/lib/tachometer-monitor/sessions.db"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "tachometer:"
	}
	if c.InfluxDB.SpoolDirectory == "" {
		c.InfluxDB.SpoolDirectory = "/var/cache/tachometer-monitor"
	}
	if c.InfluxDB.SpoolMaxSize == 0 {
		c.InfluxDB.SpoolMaxSize = 100 * 1024 * 1024
	}
	if c.InfluxDB.SpoolMaxAge == 0 {
		c.InfluxDB.SpoolMaxAge = 7 * 24 * time.Hour
	}
	if c.Insight.Model == "" {
		c.Insight.Model = insight.DefaultModel
	}
	if c.Insight.BaseURL == "" {
		c.Insight.BaseURL = insight.DefaultBaseURL
	}
	if c.Insight.Timeout == 0 {
		c.Insight.Timeout = 30 * time.Second
	}
	if c.Insight.RateLimit == 0 {
		c.Insight.RateLimit = 0.5
	}
	if c.Insight.Burst == 0 {
		c.Insight.Burst = 3
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "localhost:9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewConfigError(fieldPath(fe.Namespace()), fmt.Sprint(fe.Value()),
				fmt.Errorf("%w: failed %q check", apperrors.ErrInvalidConfig, fe.Tag()))
		}
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}

	if c.InfluxDB.Enabled() {
		parsed, err := url.Parse(c.InfluxDB.URL)
		if err != nil {
			return apperrors.NewConfigError("influxdb.url", c.InfluxDB.URL, err)
		}
		if err := validateURLSecurity(parsed); err != nil {
			return apperrors.NewConfigError("influxdb.url", c.InfluxDB.URL, err)
		}
	}

	if c.Device.DiscoveryEnabled && c.Device.DiscoveryInterval < c.Device.DiscoveryTimeout {
		return apperrors.NewConfigError("device.discovery_interval", c.Device.DiscoveryInterval.String(),
			fmt.Errorf("%w: must be at least device.discovery_timeout", apperrors.ErrInvalidConfig))
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("%w: must use HTTPS for non-local connections (got %s)", apperrors.ErrInvalidConfig, parsedURL.Scheme)
	}
	return nil
}

// fieldPath turns "Config.influxdb.token" into "influxdb.token".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
