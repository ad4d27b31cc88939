// config.go — Configuration loading with priority cascade.
// Priority: defaults < config file < env vars < flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dev-console/pagetap/internal/serialize"
)

// ProjectFile is the config file looked up in the project directory.
const ProjectFile = ".pagetap.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all resolved configuration values.
type Config struct {
	// MaxLength caps every serialized payload field, in characters.
	MaxLength    int  `yaml:"max_length"`
	RecordCanvas bool `yaml:"record_canvas"`
	// ForwardCustom sends custom events to the recording substrate as well as the session buffer.
	ForwardCustom bool `yaml:"forward_custom"`

	// CollectorURL selects the remote substrate when set.
	CollectorURL  string        `yaml:"collector_url"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`

	ExportDir      string `yaml:"export_dir"`
	ExportCompress bool   `yaml:"export_compress"`

	LogLevel string `yaml:"log_level"`

	Collector CollectorConfig `yaml:"collector"`
}

// CollectorConfig configures the collector service.
type CollectorConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	// RateLimit is the sustained ingest rate per session, in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// Nil pointer means the flag was not set (so lower-priority values are kept).
type FlagOverrides struct {
	MaxLength      *int
	RecordCanvas   *bool
	CollectorURL   *string
	ExportDir      *string
	ExportCompress *bool
	LogLevel       *string
	CollectorAddr  *string
	DBPath         *string
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		MaxLength:     serialize.DefaultMaxLength,
		ForwardCustom: true,
		FlushInterval: 2 * time.Second,
		BatchSize:     50,
		LogLevel:      "info",
		Collector: CollectorConfig{
			Addr:      "127.0.0.1:7341",
			RateLimit: 50,
			Burst:     100,
		},
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < configFile (or projectDir/.pagetap.yaml) < PAGETAP_* env vars < flags.
// An explicitly named config file must exist.
func Load(projectDir, configFile string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if configFile != "" {
		if err := loadYAMLFile(&cfg, configFile, true); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
	} else if err := loadYAMLFile(&cfg, filepath.Join(projectDir, ProjectFile), false); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	loadEnvVars(&cfg, os.Getenv)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadYAMLFile merges the keys present in path into cfg. Unknown keys are rejected.
func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnvVars applies environment variable overrides. Unparseable values are ignored.
func loadEnvVars(cfg *Config, getenv func(string) string) {
	if n, ok := envInt(getenv, "PAGETAP_MAX_LENGTH"); ok {
		cfg.MaxLength = n
	}
	if b, ok := envBool(getenv, "PAGETAP_RECORD_CANVAS"); ok {
		cfg.RecordCanvas = b
	}
	if b, ok := envBool(getenv, "PAGETAP_FORWARD_CUSTOM"); ok {
		cfg.ForwardCustom = b
	}
	if v := getenv("PAGETAP_COLLECTOR_URL"); v != "" {
		cfg.CollectorURL = v
	}
	if v := getenv("PAGETAP_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FlushInterval = d
		}
	}
	if n, ok := envInt(getenv, "PAGETAP_BATCH_SIZE"); ok {
		cfg.BatchSize = n
	}
	if v := getenv("PAGETAP_EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if b, ok := envBool(getenv, "PAGETAP_EXPORT_COMPRESS"); ok {
		cfg.ExportCompress = b
	}
	if v := getenv("PAGETAP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("PAGETAP_COLLECTOR_ADDR"); v != "" {
		cfg.Collector.Addr = v
	}
	if v := getenv("PAGETAP_DB_PATH"); v != "" {
		cfg.Collector.DBPath = v
	}
	if v := getenv("PAGETAP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Collector.RateLimit = f
		}
	}
	if n, ok := envInt(getenv, "PAGETAP_BURST"); ok {
		cfg.Collector.Burst = n
	}
}

func envInt(getenv func(string) string, key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func envBool(getenv func(string) string, key string) (bool, bool) {
	v := getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

// applyFlags applies command-line flag overrides (highest priority).
func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.MaxLength != nil {
		cfg.MaxLength = *flags.MaxLength
	}
	if flags.RecordCanvas != nil {
		cfg.RecordCanvas = *flags.RecordCanvas
	}
	if flags.CollectorURL != nil {
		cfg.CollectorURL = *flags.CollectorURL
	}
	if flags.ExportDir != nil {
		cfg.ExportDir = *flags.ExportDir
	}
	if flags.ExportCompress != nil {
		cfg.ExportCompress = *flags.ExportCompress
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.CollectorAddr != nil {
		cfg.Collector.Addr = *flags.CollectorAddr
	}
	if flags.DBPath != nil {
		cfg.Collector.DBPath = *flags.DBPath
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxLength < 1 {
		return fmt.Errorf("%w: max_length must be positive, got %d", ErrInvalidConfig, c.MaxLength)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive, got %s", ErrInvalidConfig, c.FlushInterval)
	}
	if c.CollectorURL != "" && !strings.HasPrefix(c.CollectorURL, "http://") && !strings.HasPrefix(c.CollectorURL, "https://") {
		return fmt.Errorf("%w: collector_url must be an http(s) URL, got %q", ErrInvalidConfig, c.CollectorURL)
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Collector.RateLimit <= 0 {
		return fmt.Errorf("%w: collector.rate_limit must be positive, got %g", ErrInvalidConfig, c.Collector.RateLimit)
	}
	if c.Collector.Burst < 1 {
		return fmt.Errorf("%w: collector.burst must be positive, got %d", ErrInvalidConfig, c.Collector.Burst)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
