// Package config manages zkanycastd configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides. There is no
// CLI-flag layer; the command line only supplies the file path.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete zkanycastd configuration.
type Config struct {
	// ZKHosts is the non-empty list of host:port endpoints for the
	// ZooKeeper ensemble.
	ZKHosts []string `koanf:"zk_hosts"`

	// ZKPathService is the absolute znode path prefix under which
	// service membership directories live (e.g. "/services").
	ZKPathService string `koanf:"zk_path_service"`

	// SrvName is the service identifier; the membership directory is
	// {ZKPathService}/{SrvName}.
	SrvName string `koanf:"srv_name"`

	// SrvAuthIP is this node's authoritative address; also the leaf
	// znode name of its ephemeral membership marker.
	SrvAuthIP string `koanf:"srv_auth_ip"`

	// SrvNonAuthIPs is the ordered list of secondary addresses the
	// service as a whole may host.
	SrvNonAuthIPs []string `koanf:"srv_non_auth_ips"`

	// LocalCheck is the shell command used as the health probe.
	LocalCheck string `koanf:"local_check"`

	// LocalCheckTimeout bounds the health probe's execution. Defaults
	// to 1s, matching the original's hardcoded SIGALRM value.
	LocalCheckTimeout time.Duration `koanf:"local_check_timeout"`

	// SessionTimeout is the ZooKeeper session timeout passed to the
	// client at connect time.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// LongSleep bounds how long the control loop waits for a flag to
	// be set before running an iteration anyway.
	LongSleep time.Duration `koanf:"long_sleep"`

	// ShortSleep is the control loop's poll interval while waiting on
	// LongSleep.
	ShortSleep time.Duration `koanf:"short_sleep"`

	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// ServiceDir returns the durable directory znode path under which every
// node in this service registers its ephemeral membership marker.
func (c *Config) ServiceDir() string {
	return path.Join(c.ZKPathService, c.SrvName)
}

// MembershipPath returns the full ephemeral znode path for this node,
// satisfying {zk_path_service}/{srv_name}/{srv_auth_ip}.
func (c *Config) MembershipPath() string {
	return path.Join(c.ServiceDir(), c.SrvAuthIP)
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// sleep and timeout defaults mirror the original implementation's
// hardcoded constants (1s probe deadline, 10s long sleep, 100ms short
// sleep).
func DefaultConfig() *Config {
	return &Config{
		SessionTimeout:    10 * time.Second,
		LocalCheckTimeout: time.Second,
		LongSleep:         10 * time.Second,
		ShortSleep:        100 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for zkanycastd
// configuration. Variables are named ZKANYCASTD_<KEY>, e.g.
// ZKANYCASTD_SRV_AUTH_IP.
const envPrefix = "ZKANYCASTD_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (ZKANYCASTD_ prefix), and merges on
// top of DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ZKANYCASTD_SRV_AUTH_IP -> srv_auth_ip and
// ZKANYCASTD_LOG_LEVEL -> log.level. Only the first underscore-delimited
// segment of a handful of nested keys (log, metrics) maps to a dotted
// path; all other keys are flat, matching the YAML document's top-level
// shape.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	switch {
	case strings.HasPrefix(s, "log_"):
		return "log." + strings.TrimPrefix(s, "log_")
	case strings.HasPrefix(s, "metrics_"):
		return "metrics." + strings.TrimPrefix(s, "metrics_")
	default:
		return s
	}
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"local_check_timeout": defaults.LocalCheckTimeout.String(),
		"session_timeout":     defaults.SessionTimeout.String(),
		"long_sleep":          defaults.LongSleep.String(),
		"short_sleep":         defaults.ShortSleep.String(),
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyZKHosts indicates no ZooKeeper ensemble endpoints were given.
	ErrEmptyZKHosts = errors.New("zk_hosts must not be empty")

	// ErrEmptyZKPathService indicates the service path prefix is empty.
	ErrEmptyZKPathService = errors.New("zk_path_service must not be empty")

	// ErrEmptySrvName indicates the service identifier is empty.
	ErrEmptySrvName = errors.New("srv_name must not be empty")

	// ErrEmptySrvAuthIP indicates the node's own address is unset.
	ErrEmptySrvAuthIP = errors.New("srv_auth_ip must not be empty")

	// ErrEmptyLocalCheck indicates no health probe command was given.
	ErrEmptyLocalCheck = errors.New("local_check must not be empty")

	// ErrInvalidLocalCheckTimeout indicates a non-positive probe deadline.
	ErrInvalidLocalCheckTimeout = errors.New("local_check_timeout must be > 0")

	// ErrInvalidSessionTimeout indicates a non-positive ZooKeeper session timeout.
	ErrInvalidSessionTimeout = errors.New("session_timeout must be > 0")

	// ErrInvalidLongSleep indicates a non-positive long-sleep tick.
	ErrInvalidLongSleep = errors.New("long_sleep must be > 0")

	// ErrInvalidShortSleep indicates a non-positive short-sleep tick.
	ErrInvalidShortSleep = errors.New("short_sleep must be > 0")
)

// Validate checks the configuration for logical errors. Returns the
// first violated sentinel error, matching the teacher's idiom of
// returning unwrapped sentinels for callers to classify with errors.Is.
func Validate(cfg *Config) error {
	if len(cfg.ZKHosts) == 0 {
		return ErrEmptyZKHosts
	}
	if cfg.ZKPathService == "" {
		return ErrEmptyZKPathService
	}
	if cfg.SrvName == "" {
		return ErrEmptySrvName
	}
	if cfg.SrvAuthIP == "" {
		return ErrEmptySrvAuthIP
	}
	if cfg.LocalCheck == "" {
		return ErrEmptyLocalCheck
	}
	if cfg.LocalCheckTimeout <= 0 {
		return ErrInvalidLocalCheckTimeout
	}
	if cfg.SessionTimeout <= 0 {
		return ErrInvalidSessionTimeout
	}
	if cfg.LongSleep <= 0 {
		return ErrInvalidLongSleep
	}
	if cfg.ShortSleep <= 0 {
		return ErrInvalidShortSleep
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
